package flow

import (
	"strings"

	"quizflow-service/internal/domain"
)

// Transition is the outcome of resolving one step. Terminal means the
// attempt ends here: either NextNodeID is empty (dead end) or it names a
// node the caller will discover to be a result node.
type Transition struct {
	NextNodeID string
	Terminal   bool
}

// ResolveNext decides the node that follows current once answer has been
// submitted. Condition nodes are resolved through transparently: they
// never become the current node, and the returned id is always a
// respondent-visible node. A missing edge target degrades to a terminal
// transition (see Validate).
//
// Validation failures (ErrAnswerRequired, ErrInputRequired) are refused
// no-ops: the caller must not advance and the attempt state is unchanged.
func ResolveNext(current domain.FlowNode, answer string, nodes []domain.FlowNode, edges []domain.FlowEdge) (Transition, error) {
	switch current.Type {
	case domain.NodeResult:
		return Transition{Terminal: true}, nil

	case domain.NodeTextInput:
		if data, ok := current.Data.(domain.TextInputData); ok && data.Required && strings.TrimSpace(answer) == "" {
			return Transition{}, domain.ErrInputRequired
		}
		return followFirstEdge(current.ID, nodes, edges), nil

	case domain.NodeOptionQuestion, domain.NodeImageQuestion:
		if answer == "" {
			return Transition{}, domain.ErrAnswerRequired
		}
		edge, ok := FirstOutgoingEdge(current.ID, edges)
		if !ok {
			return Transition{Terminal: true}, nil
		}
		successor, found := FindNode(nodes, edge.Target)
		if !found {
			return Transition{Terminal: true}, nil
		}
		if successor.Type == domain.NodeCondition {
			return resolveCondition(successor, current.ID, answer, nodes, edges), nil
		}
		return Transition{NextNodeID: successor.ID}, nil

	default:
		// Message nodes and unknown kinds pass through, ignoring the answer.
		return followFirstEdge(current.ID, nodes, edges), nil
	}
}

// resolveCondition scans the condition list for the first entry matching
// the answered node and chosen option. Without a match the condition's own
// first outgoing edge is the default path; without that, the attempt ends.
func resolveCondition(cond domain.FlowNode, sourceID, optionID string, nodes []domain.FlowNode, edges []domain.FlowEdge) Transition {
	if data, ok := cond.Data.(domain.ConditionData); ok {
		for _, c := range data.Conditions {
			if c.SourceID == sourceID && c.OptionID == optionID {
				return stepTo(c.TargetID, nodes, edges)
			}
		}
	}
	return followFirstEdge(cond.ID, nodes, edges)
}

func followFirstEdge(nodeID string, nodes []domain.FlowNode, edges []domain.FlowEdge) Transition {
	edge, ok := FirstOutgoingEdge(nodeID, edges)
	if !ok {
		return Transition{Terminal: true}
	}
	return stepTo(edge.Target, nodes, edges)
}

// stepTo lands the transition on targetID, resolving through any condition
// nodes on the way so they never surface as the current node. A condition
// reached here has no answered source left to match, so it falls to its
// default first outgoing edge. Conditions forming a cycle, or one without
// a default edge, end the attempt.
func stepTo(targetID string, nodes []domain.FlowNode, edges []domain.FlowEdge) Transition {
	seen := make(map[string]struct{})
	for {
		node, found := FindNode(nodes, targetID)
		if !found {
			return Transition{Terminal: true}
		}
		if node.Type != domain.NodeCondition {
			return Transition{NextNodeID: targetID}
		}
		if _, dup := seen[targetID]; dup {
			return Transition{Terminal: true}
		}
		seen[targetID] = struct{}{}
		edge, ok := FirstOutgoingEdge(targetID, edges)
		if !ok {
			return Transition{Terminal: true}
		}
		targetID = edge.Target
	}
}
