package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind tags the variant of a flow node. The string values match the
// flow_data JSON produced by the editor, so stored quizzes decode unchanged.
type NodeKind string

const (
	NodeOptionQuestion NodeKind = "optionQuestion"
	NodeImageQuestion  NodeKind = "imageQuestion"
	NodeTextInput      NodeKind = "textInput"
	NodeCondition      NodeKind = "condition"
	NodeMessage        NodeKind = "message"
	NodeResult         NodeKind = "result"
)

// FlowNode is one node of a quiz flow graph. Data carries the
// kind-specific payload and is decoded according to Type.
type FlowNode struct {
	ID   string   `json:"id"`
	Type NodeKind `json:"type"`
	Data NodeData `json:"data,omitempty"`
}

// NodeData is the tagged payload of a FlowNode. Concrete types are
// OptionQuestionData, ImageQuestionData, TextInputData, ConditionData,
// MessageData and ResultData.
type NodeData interface {
	nodeData()
}

// Option is a selectable answer of an option question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ImageOption is a selectable answer of an image question.
type ImageOption struct {
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Condition routes "if the answer to SourceID was OptionID, go to TargetID".
type Condition struct {
	SourceID string `json:"sourceId"`
	OptionID string `json:"optionId"`
	TargetID string `json:"targetId"`
}

// Redirect is the post-completion redirect directive of a result node.
// The engine treats it as opaque passthrough for the presentation layer.
type Redirect struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Delay   int    `json:"delay"`
}

type OptionQuestionData struct {
	Title   string   `json:"title,omitempty"`
	Options []Option `json:"options"`
}

type ImageQuestionData struct {
	Title   string        `json:"title,omitempty"`
	Options []ImageOption `json:"options"`
}

type TextInputData struct {
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Mask        string `json:"mask,omitempty"`
}

type ConditionData struct {
	Title      string      `json:"title,omitempty"`
	Conditions []Condition `json:"conditions"`
}

type MessageData struct {
	Title         string `json:"title,omitempty"`
	Text          string `json:"text,omitempty"`
	TimerDuration int    `json:"timerDuration,omitempty"`
}

type ResultData struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Redirect    *Redirect `json:"redirect,omitempty"`
}

func (OptionQuestionData) nodeData() {}
func (ImageQuestionData) nodeData()  {}
func (TextInputData) nodeData()      {}
func (ConditionData) nodeData()      {}
func (MessageData) nodeData()        {}
func (ResultData) nodeData()         {}

// UnmarshalJSON decodes the data payload into the concrete type selected
// by the node kind. Unknown kinds keep a nil payload rather than failing,
// so a flow saved by a newer editor still loads.
func (n *FlowNode) UnmarshalJSON(raw []byte) error {
	var head struct {
		ID   string          `json:"id"`
		Type NodeKind        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return err
	}
	n.ID = head.ID
	n.Type = head.Type
	n.Data = nil
	if len(head.Data) == 0 || string(head.Data) == "null" {
		return nil
	}

	decode := func(v NodeData) error {
		if err := json.Unmarshal(head.Data, v); err != nil {
			return fmt.Errorf("decode %s node %s: %w", head.Type, head.ID, err)
		}
		return nil
	}

	switch head.Type {
	case NodeOptionQuestion:
		var d OptionQuestionData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case NodeImageQuestion:
		var d ImageQuestionData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case NodeTextInput:
		var d TextInputData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case NodeCondition:
		var d ConditionData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case NodeMessage:
		var d MessageData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	case NodeResult:
		var d ResultData
		if err := decode(&d); err != nil {
			return err
		}
		n.Data = d
	}
	return nil
}

// FlowEdge is a directed edge between two flow nodes.
type FlowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// FlowData is the full graph of one quiz.
type FlowData struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// Quiz publication states.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Quiz is a quiz definition as loaded from the persistence collaborator.
type Quiz struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Status string   `json:"status"`
	Flow   FlowData `json:"flow_data"`
}

// Progress is the persisted snapshot of one in-flight attempt,
// upserted by progress_id.
type Progress struct {
	ProgressID         string            `json:"progress_id"`
	QuizID             string            `json:"quiz_id"`
	UserID             string            `json:"user_id,omitempty"`
	CurrentNodeID      string            `json:"current_node_id"`
	NodeHistory        []string          `json:"node_history"`
	Answers            map[string]string `json:"answers"`
	TextInputs         map[string]string `json:"text_inputs"`
	ProgressPercentage float64           `json:"progress_percentage"`
	IsCompleted        bool              `json:"is_completed"`
	ResultNodeID       string            `json:"result_node_id,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Attempt is the immutable record of a completed run. Created exactly once
// per attempt when a result node is reached; never mutated afterwards.
type Attempt struct {
	ID           string            `json:"id"`
	QuizID       string            `json:"quiz_id"`
	UserID       string            `json:"user_id,omitempty"`
	ResultNodeID string            `json:"result_node_id"`
	Answers      map[string]string `json:"answers"`
	CreatedAt    time.Time         `json:"created_at"`
}
