package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Exam represents an exam as read from the exam store.
type Exam struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Subject         string     `json:"subject" db:"subject"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	EntryToken      string     `json:"-" db:"entry_token"`
	Status          ExamStatus `json:"status" db:"status"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty" db:"scheduled_start"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty" db:"scheduled_end"`
}

// Available reports whether students may currently take the exam.
func (e *Exam) Available() bool {
	return e.Status == ExamStatusPublished || e.Status == ExamStatusInProgress
}

// DurationSeconds returns the exam length in seconds.
func (e *Exam) DurationSeconds() int {
	return e.DurationMinutes * 60
}
