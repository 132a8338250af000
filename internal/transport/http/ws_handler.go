package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mykarfour/quiz-attempt-engine/internal/domain"
	"github.com/mykarfour/quiz-attempt-engine/internal/engine"
)

// WSHandler drives a live quiz attempt over a websocket: the client starts
// (or resumes) an attempt, streams answers, polls progress, and finishes, all
// on one connection. The flow is strictly request/response per message, so no
// writer goroutine is needed.
type WSHandler struct {
	service  *engine.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *engine.Service) *WSHandler {
	return &WSHandler{
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
	QuestionID          string   `json:"questionId"`
	ChoiceIDs           []string `json:"choiceIds"`
	ResponseTimeSeconds int      `json:"responseTimeSeconds"`
}

type startedPayload struct {
	AttemptID        string `json:"attemptId"`
	QuizID           string `json:"quizId"`
	PointsMax        int    `json:"pointsMax"`
	RemainingSeconds int    `json:"remainingSeconds"`
	Resumed          bool   `json:"resumed"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the attempt message loop.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learnerId")
	quizID := r.URL.Query().Get("quizId")
	if learnerID == "" || quizID == "" {
		http.Error(w, "missing learnerId or quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	attemptID := ""

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}

		switch inbound.Type {
		case "start":
			resumed := false
			attempt, err := h.service.Start(ctx, learnerID, quizID)
			if errors.Is(err, domain.ErrAttemptInProgress) {
				// Send the learner back to their open attempt.
				attempt, err = h.service.ActiveAttempt(ctx, learnerID, quizID)
				resumed = true
			}
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			attemptID = attempt.ID

			progress, err := h.service.GetProgress(ctx, attemptID)
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			h.send(conn, "started", startedPayload{
				AttemptID:        attempt.ID,
				QuizID:           attempt.QuizID,
				PointsMax:        attempt.PointsMax,
				RemainingSeconds: progress.RemainingSeconds,
				Resumed:          resumed,
			})

		case "answer":
			if attemptID == "" {
				h.sendError(conn, errors.New("no attempt started"))
				continue
			}
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.sendError(conn, errors.New("invalid answer payload"))
				continue
			}
			outcome, err := h.service.SubmitAnswer(ctx, attemptID, payload.QuestionID, payload.ChoiceIDs, payload.ResponseTimeSeconds)
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			h.send(conn, "answerResult", outcome)

		case "progress":
			if attemptID == "" {
				h.sendError(conn, errors.New("no attempt started"))
				continue
			}
			progress, err := h.service.GetProgress(ctx, attemptID)
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			h.send(conn, "progress", progress)

		case "finish":
			if attemptID == "" {
				h.sendError(conn, errors.New("no attempt started"))
				continue
			}
			if _, err := h.service.Finish(ctx, attemptID); err != nil && !errors.Is(err, domain.ErrAlreadyFinished) {
				h.sendError(conn, err)
				continue
			}
			result, err := h.service.GetResult(ctx, attemptID)
			if err != nil {
				h.sendError(conn, err)
				continue
			}
			h.send(conn, "finished", result)

		default:
			h.sendError(conn, errors.New("unsupported message type"))
		}
	}
}

func (h *WSHandler) send(conn *websocket.Conn, msgType string, payload any) {
	if err := conn.WriteJSON(outboundMessage[any]{Type: msgType, Payload: payload}); err != nil {
		log.Printf("ws write error: %v", err)
	}
}

func (h *WSHandler) sendError(conn *websocket.Conn, err error) {
	h.send(conn, "error", errorPayload{Message: err.Error()})
}
