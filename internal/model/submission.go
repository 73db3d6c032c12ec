package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitTrigger records what caused a submission.
type SubmitTrigger string

const (
	SubmitTriggerManual  SubmitTrigger = "manual"
	SubmitTriggerTimeout SubmitTrigger = "timeout"
)

// Submission is the final, immutable record of one attempt.
type Submission struct {
	ExamID             uuid.UUID         `json:"exam_id"`
	StudentID          string            `json:"student_id"`
	Answers            map[string]Answer `json:"answers"`
	SubmittedAt        time.Time         `json:"submitted_at"`
	TimeSpentSeconds   int               `json:"time_spent_seconds"`
	FlaggedQuestionIDs []string          `json:"flagged_question_ids"`
	SuspiciousActivity []ActivityEvent   `json:"suspicious_activity"`
	TabSwitchCount     int               `json:"tab_switch_count"`
	Trigger            SubmitTrigger     `json:"trigger"`
}

// GradeResult is the auto-grading outcome for a submission.
type GradeResult struct {
	Score         int  `json:"score"`
	MaxScore      int  `json:"max_score"`
	Correct       int  `json:"correct"`
	PendingReview int  `json:"pending_review"`
	FullyGraded   bool `json:"fully_graded"`
}
