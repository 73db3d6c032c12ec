package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states as persisted.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession is the durable row tracking a student's attempt.
type ExamSession struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	StudentID     string        `json:"student_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Status        SessionStatus `json:"status"`
	QuestionOrder []string      `json:"question_order,omitempty"`
	FinalScore    *float64      `json:"final_score,omitempty"`
}

// StartSessionRequest is the payload for starting or resuming an attempt.
type StartSessionRequest struct {
	EntryToken string `json:"entry_token" binding:"omitempty,min=4,max=20,entry_token"`
}

// SubmitRequest is the payload for a manual submission.
type SubmitRequest struct {
	Confirm bool `json:"confirm" binding:"required"`
}
