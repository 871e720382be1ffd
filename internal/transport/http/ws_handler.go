package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizflow-service/internal/app"
	"quizflow-service/internal/domain"
)

// PlayerHandler drives one traversal session per websocket connection.
type PlayerHandler struct {
	service  *app.PlayerService
	upgrader websocket.Upgrader
}

func NewPlayerHandler(service *app.PlayerService) *PlayerHandler {
	return &PlayerHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Value string `json:"value"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type nodePayload struct {
	Node       domain.FlowNode `json:"node"`
	ProgressID string          `json:"progressId"`
	Progress   float64         `json:"progressPercentage"`
}

type resumePayload struct {
	ProgressID    string  `json:"progressId"`
	CurrentNodeID string  `json:"currentNodeId"`
	Progress      float64 `json:"progressPercentage"`
}

type completedPayload struct {
	Node      domain.FlowNode  `json:"node"`
	AttemptID string           `json:"attemptId,omitempty"`
	Redirect  *domain.Redirect `json:"redirect,omitempty"`
	Progress  float64          `json:"progressPercentage"`
}

type finishedPayload struct {
	Progress float64 `json:"progressPercentage"`
}

type savedPayload struct {
	SavedAt time.Time `json:"savedAt"`
}

// ServeWS upgrades the request and runs the player protocol: the client
// sends start/resume/answer/back/restart, the server replies with the
// current node, progress updates, save acknowledgements, and finally a
// completed or finished event.
func (h *PlayerHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("userId")
	progressID := r.URL.Query().Get("progressId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, pending, err := h.service.Open(r.Context(), quizID, userID, progressID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	// Save acknowledgements arrive from the debounce timer's goroutine;
	// the writer goroutine keeps conn writes single-threaded.
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-closeSignals:
				// Drain queued events before going away so the final
				// completed/finished message is not dropped.
				for {
					select {
					case msg := <-send:
						if err := conn.WriteJSON(msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	session.SetSaveListener(func(saveErr error) {
		if saveErr != nil {
			return // logged by the saver; non-fatal
		}
		select {
		case send <- outboundMessage[any]{Type: "saved", Payload: savedPayload{SavedAt: time.Now()}}:
		case <-closeSignals:
		}
	})

	if pending != nil {
		send <- outboundMessage[any]{Type: "resume", Payload: resumePayload{
			ProgressID:    pending.Progress.ProgressID,
			CurrentNodeID: pending.Progress.CurrentNodeID,
			Progress:      pending.ProgressPercent(),
		}}
	} else {
		node, err := session.Start()
		if err != nil {
			send <- errorMessage(err)
			h.shutdown(session, send, closeSignals, writerDone)
			return
		}
		send <- nodeMessage(session, node)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start", "restart":
			pending = nil
			node, err := session.Restart()
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- nodeMessage(session, node)
		case "resume":
			// The offer is one-shot: consumed on resume, withdrawn by a
			// restart.
			if pending == nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "nothing to resume"}}
				continue
			}
			node, err := session.Resume(pending)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			pending = nil
			send <- nodeMessage(session, node)
		case "answer", "next":
			var payload answerPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
					continue
				}
			}
			h.advance(r.Context(), session, send, payload.Value)
		case "back":
			node, ok := session.GoBack()
			if !ok {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "cannot go back"}}
				continue
			}
			send <- nodeMessage(session, node)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	h.shutdown(session, send, closeSignals, writerDone)
}

func (h *PlayerHandler) advance(ctx context.Context, session *app.PlayerSession, send chan outboundMessage[any], value string) {
	result, err := session.Advance(ctx, value)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAnswerRequired), errors.Is(err, domain.ErrInputRequired):
			// Refused no-op: the client re-prompts, nothing advanced.
			send <- errorMessage(err)
			return
		case result.Completed:
			// The attempt record write failed; the session still completed.
			send <- errorMessage(err)
		default:
			send <- errorMessage(err)
			return
		}
	}

	switch {
	case result.Completed:
		payload := completedPayload{Progress: result.Percent}
		if result.Node != nil {
			payload.Node = *result.Node
			if data, ok := result.Node.Data.(domain.ResultData); ok {
				payload.Redirect = data.Redirect
			}
		}
		if result.Attempt != nil {
			payload.AttemptID = result.Attempt.ID
		}
		send <- outboundMessage[any]{Type: "completed", Payload: payload}
	case result.Finished:
		send <- outboundMessage[any]{Type: "finished", Payload: finishedPayload{Progress: result.Percent}}
	case result.Node != nil:
		send <- nodeMessage(session, *result.Node)
	}
}

func (h *PlayerHandler) shutdown(session *app.PlayerSession, send chan outboundMessage[any], closeSignals chan struct{}, writerDone chan struct{}) {
	session.SetSaveListener(nil)
	close(closeSignals)
	<-writerDone

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		log.Printf("flush progress on disconnect: %v", err)
	}
}

func nodeMessage(session *app.PlayerSession, node domain.FlowNode) outboundMessage[any] {
	return outboundMessage[any]{Type: "node", Payload: nodePayload{
		Node:       node,
		ProgressID: session.ProgressID(),
		Progress:   session.ProgressPercent(),
	}}
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}
