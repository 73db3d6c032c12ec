package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerProgress is queued for every accepted answer change. A nil Answer
// means the answer was cleared.
type AnswerProgress struct {
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  string    `json:"student_id"`
	QuestionID string    `json:"q_id"`
	Answer     *Answer   `json:"answer"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ActivityRecord is one suspicious-activity event queued for durable storage.
type ActivityRecord struct {
	ExamID    uuid.UUID    `json:"exam_id"`
	StudentID string       `json:"student_id"`
	Kind      ActivityKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
}

// QuestionOrderRecord is the shuffled order chosen for an attempt.
type QuestionOrderRecord struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID string    `json:"student_id"`
	Order     []string  `json:"order"`
	// Replace overwrites an order that no longer matches the exam's questions.
	Replace bool `json:"replace,omitempty"`
}

// ScoreRecord carries an auto-grading result to the scoring worker.
type ScoreRecord struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID string    `json:"student_id"`
	GradeResult
	GradedAt time.Time `json:"graded_at"`
}

// MonitorEventType names an event relayed to the proctor monitor.
type MonitorEventType string

const (
	MonitorEventJoined    MonitorEventType = "joined"
	MonitorEventAnswered  MonitorEventType = "answered"
	MonitorEventActivity  MonitorEventType = "activity"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published on an exam's monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	StudentID string           `json:"student_id"`
	Answered  int              `json:"answered_count,omitempty"`
	Activity  ActivityKind     `json:"activity,omitempty"`
	Trigger   SubmitTrigger    `json:"trigger,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
