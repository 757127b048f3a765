package app

import (
	"time"

	"examprep-attempt-service/internal/domain"
)

// Grade computes the result for a finished attempt. It is pure: the quiz
// snapshot and the final answers map fully determine score and total.
// Unanswered questions count as wrong, never as excluded; there is no partial
// credit and no negative marking. Comparison is by option ID, and a grace-mark
// question counts as correct regardless of the selection.
func Grade(quiz domain.QuizDefinition, answers map[string]string, now time.Time) domain.ResultRecord {
	score := 0
	for _, q := range quiz.Questions {
		if q.GraceMark {
			score++
			continue
		}
		if selected, ok := answers[q.ID]; ok && selected == q.CorrectOptionID {
			score++
		}
	}

	copied := make(map[string]string, len(answers))
	for k, v := range answers {
		copied[k] = v
	}

	return domain.ResultRecord{
		QuizID:   quiz.ID,
		Score:    score,
		Total:    len(quiz.Questions),
		Answers:  copied,
		GradedAt: now,
	}
}
