package domain

import "time"

// ResultVisibility controls when a student may see their graded result.
type ResultVisibility string

const (
	// VisibilityImmediate shows the result as soon as the attempt is graded.
	VisibilityImmediate ResultVisibility = "immediate"
	// VisibilityDeferred withholds the result until released out-of-band.
	VisibilityDeferred ResultVisibility = "deferred"
)

// Option is one selectable answer. IDs are assigned at quiz-creation time and
// stay stable for the life of the snapshot, so grading never depends on option
// text (two options with identical text remain unambiguous).
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a denormalized snapshot embedded in a quiz definition. Later
// edits to the canonical question bank never affect it.
type Question struct {
	ID              string   `json:"id"`
	Prompt          string   `json:"prompt"` // rich text / HTML
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correctOptionId"`
	Explanation     string   `json:"explanation,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	// GraceMark treats the question as automatically correct, used to
	// compensate for known-bad questions.
	GraceMark bool `json:"graceMark,omitempty"`
}

// QuizDefinition is the immutable (per-attempt) set of questions and
// configuration a quiz was created with.
type QuizDefinition struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Course           string           `json:"course,omitempty"`
	DurationMinutes  int              `json:"durationMinutes"`
	ResultVisibility ResultVisibility `json:"resultVisibility,omitempty"`
	Questions        []Question       `json:"questions"`
}

// Duration returns the attempt time budget.
func (q QuizDefinition) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

// AttemptState is the one mutable record of the flow, keyed by (user, quiz).
// Answers map question IDs to selected option IDs; RemainingTime is the
// canonical countdown value and never increases across resumes.
type AttemptState struct {
	UserID        string            `json:"userId"`
	QuizID        string            `json:"quizId"`
	Answers       map[string]string `json:"answers"`
	RemainingTime int               `json:"remainingTime"` // seconds
	StartedAt     time.Time         `json:"startedAt"`
	Completed     bool              `json:"completed"`
	SubmittedAt   *time.Time        `json:"submittedAt,omitempty"`
}

// CloneAnswers copies the answers map so a caller can hold a snapshot that a
// later merge cannot mutate.
func (a AttemptState) CloneAnswers() map[string]string {
	out := make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		out[k] = v
	}
	return out
}

// ResultRecord is the immutable grading outcome for one attempt.
type ResultRecord struct {
	UserID   string            `json:"userId"`
	QuizID   string            `json:"quizId"`
	Score    int               `json:"score"`
	Total    int               `json:"total"`
	Answers  map[string]string `json:"answers"`
	GradedAt time.Time         `json:"gradedAt"`
}
