package app_test

import (
	"testing"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
)

func threeQuestionQuiz() domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:              "quiz-1",
		Title:           "Practice set",
		DurationMinutes: 1,
		Questions: []domain.Question{
			{
				ID:              "q1",
				Prompt:          "First question",
				Options:         []domain.Option{{ID: "oA", Text: "A"}, {ID: "oB", Text: "B"}},
				CorrectOptionID: "oB",
			},
			{
				ID:              "q2",
				Prompt:          "Second question",
				Options:         []domain.Option{{ID: "oA", Text: "A"}, {ID: "oB", Text: "B"}},
				CorrectOptionID: "oA",
			},
			{
				ID:              "q3",
				Prompt:          "Third question",
				Options:         []domain.Option{{ID: "oA", Text: "A"}, {ID: "oB", Text: "B"}, {ID: "oC", Text: "C"}},
				CorrectOptionID: "oC",
			},
		},
	}
}

func TestGradeCountsExactMatches(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	// Q1 answered correctly, Q2 answered wrong, Q3 unanswered.
	record := app.Grade(threeQuestionQuiz(), map[string]string{"q1": "oB", "q2": "oB"}, now)

	if record.Score != 1 {
		t.Fatalf("expected score 1, got %d", record.Score)
	}
	if record.Total != 3 {
		t.Fatalf("expected total 3, got %d", record.Total)
	}
	if !record.GradedAt.Equal(now) {
		t.Fatalf("expected gradedAt %v, got %v", now, record.GradedAt)
	}
}

func TestGradeUnansweredCountsAsWrong(t *testing.T) {
	record := app.Grade(threeQuestionQuiz(), map[string]string{}, time.Now())
	if record.Score != 0 || record.Total != 3 {
		t.Fatalf("expected 0/3, got %d/%d", record.Score, record.Total)
	}
}

func TestGradeAllCorrect(t *testing.T) {
	record := app.Grade(threeQuestionQuiz(), map[string]string{"q1": "oB", "q2": "oA", "q3": "oC"}, time.Now())
	if record.Score != 3 {
		t.Fatalf("expected score 3, got %d", record.Score)
	}
}

func TestGradeGraceMarkAlwaysCorrect(t *testing.T) {
	quiz := threeQuestionQuiz()
	quiz.Questions[2].GraceMark = true

	// Q3 wrong selection, but grace-marked.
	record := app.Grade(quiz, map[string]string{"q3": "oA"}, time.Now())
	if record.Score != 1 {
		t.Fatalf("expected grace mark to count, got score %d", record.Score)
	}

	// Grace mark counts even unanswered.
	record = app.Grade(quiz, map[string]string{}, time.Now())
	if record.Score != 1 {
		t.Fatalf("expected grace mark to count unanswered, got score %d", record.Score)
	}
}

func TestGradeCopiesAnswers(t *testing.T) {
	answers := map[string]string{"q1": "oB"}
	record := app.Grade(threeQuestionQuiz(), answers, time.Now())

	answers["q1"] = "oA"
	if record.Answers["q1"] != "oB" {
		t.Fatalf("expected result answers to be a copy, got %q", record.Answers["q1"])
	}
}
