package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler runs one attempt session per websocket connection. The connection
// is the "client session" of the attempt: the handler owns the one-second
// ticker driving the countdown, pushes remaining time and the final result,
// and receives answer selections and the submit action.
type WSHandler struct {
	service         *app.AttemptService
	persistInterval time.Duration
	upgrader        websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, persistInterval time.Duration) *WSHandler {
	return &WSHandler{
		service:         service,
		persistInterval: persistInterval,
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
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wire types strip grading material (correct option IDs, explanations, grace
// marks) from the quiz while the attempt is running.
type wireOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type wireQuestion struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []wireOption `json:"options"`
	Subject string       `json:"subject,omitempty"`
}

type wireQuiz struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Course          string         `json:"course,omitempty"`
	DurationMinutes int            `json:"durationMinutes"`
	Questions       []wireQuestion `json:"questions"`
}

type attemptPayload struct {
	Quiz          wireQuiz          `json:"quiz"`
	Answers       map[string]string `json:"answers"`
	RemainingTime int               `json:"remainingTime"`
}

type tickPayload struct {
	RemainingTime int `json:"remainingTime"`
}

type answerSavedPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type reviewQuestion struct {
	ID              string `json:"id"`
	CorrectOptionID string `json:"correctOptionId"`
	Explanation     string `json:"explanation,omitempty"`
	GraceMark       bool   `json:"graceMark,omitempty"`
}

type resultPayload struct {
	Score    int               `json:"score"`
	Total    int               `json:"total"`
	Answers  map[string]string `json:"answers"`
	GradedAt time.Time         `json:"gradedAt"`
	Expired  bool              `json:"expired"`
	Review   []reviewQuestion  `json:"review,omitempty"`
}

type submittedPayload struct {
	Pending bool `json:"pending"`
	Expired bool `json:"expired"`
}

// ServeWS upgrades HTTP requests to websockets and runs the attempt loop.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}
	if userID == "" {
		http.Error(w, "missing userId", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Persistence outlives the request context: a dropped connection must not
	// cancel an in-flight finalize write.
	ctx := context.Background()

	quiz, state, err := h.service.StartOrResume(ctx, userID, quizID)
	if errors.Is(err, domain.ErrAttemptCompleted) {
		// Revisiting a finished attempt goes straight to the stored result.
		if record, resErr := h.service.Result(ctx, userID, quizID); resErr == nil {
			reviewQuiz, qErr := h.service.Quiz(ctx, quizID)
			if qErr != nil {
				reviewQuiz = domain.QuizDefinition{}
			}
			if reviewQuiz.ResultVisibility == domain.VisibilityDeferred {
				_ = conn.WriteJSON(outboundMessage[submittedPayload]{Type: "submitted", Payload: submittedPayload{Pending: true}})
				return
			}
			_ = conn.WriteJSON(outboundMessage[resultPayload]{Type: "result", Payload: buildResultPayload(reviewQuiz, record, false)})
			return
		}
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	session := app.NewAttemptSession(h.service, quiz, state, h.persistInterval)

	send := make(chan outboundMessage[any], 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	session.OnFinalize(func(record domain.ResultRecord, expired bool) {
		if quiz.ResultVisibility == domain.VisibilityDeferred {
			trySend(send, done, outboundMessage[any]{Type: "submitted", Payload: submittedPayload{Pending: true, Expired: expired}})
		} else {
			trySend(send, done, outboundMessage[any]{Type: "result", Payload: buildResultPayload(quiz, record, expired)})
		}
	})

	send <- outboundMessage[any]{Type: "attempt", Payload: attemptPayload{
		Quiz:          sanitizeQuiz(quiz),
		Answers:       session.AnswersSnapshot(),
		RemainingTime: session.RemainingTime(),
	}}

	if err := session.Start(ctx); err != nil {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}

	ticker := time.NewTicker(time.Second)
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		for {
			select {
			case <-ticker.C:
				session.Tick(ctx)
				phase := session.Phase()
				if phase == app.PhaseExpired || phase == app.PhaseSubmitted {
					return
				}
				trySend(send, done, outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingTime: session.RemainingTime()}})
			case <-done:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if err := session.Answer(ctx, payload.QuestionID, payload.OptionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerSaved", Payload: answerSavedPayload{
				QuestionID: payload.QuestionID,
				OptionID:   payload.OptionID,
			}}
		case "submit":
			if _, err := session.Submit(ctx); err != nil {
				// Finalize is higher-stakes than an answer write: surface it
				// so the client can offer a retry instead of losing the attempt.
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "could not submit, please retry"}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	session.Stop()
	ticker.Stop()
	close(done)
	<-tickerDone
	close(send)
	<-writerDone
}

// trySend never blocks teardown: once done closes, pending pushes are dropped.
func trySend(send chan<- outboundMessage[any], done <-chan struct{}, msg outboundMessage[any]) {
	select {
	case send <- msg:
	case <-done:
	}
}

func sanitizeQuiz(quiz domain.QuizDefinition) wireQuiz {
	questions := make([]wireQuestion, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		options := make([]wireOption, 0, len(q.Options))
		for _, opt := range q.Options {
			options = append(options, wireOption{ID: opt.ID, Text: opt.Text})
		}
		questions = append(questions, wireQuestion{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: options,
			Subject: q.Subject,
		})
	}
	return wireQuiz{
		ID:              quiz.ID,
		Title:           quiz.Title,
		Course:          quiz.Course,
		DurationMinutes: quiz.DurationMinutes,
		Questions:       questions,
	}
}

func buildResultPayload(quiz domain.QuizDefinition, record domain.ResultRecord, expired bool) resultPayload {
	payload := resultPayload{
		Score:    record.Score,
		Total:    record.Total,
		Answers:  record.Answers,
		GradedAt: record.GradedAt,
		Expired:  expired,
	}
	for _, q := range quiz.Questions {
		payload.Review = append(payload.Review, reviewQuestion{
			ID:              q.ID,
			CorrectOptionID: q.CorrectOptionID,
			Explanation:     q.Explanation,
			GraceMark:       q.GraceMark,
		})
	}
	return payload
}
