package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"golang.org/x/crypto/blake2b"
)

// ResumeCache stores the serialized in-progress snapshot of an attempt.
// Load returns nil data when no snapshot exists.
type ResumeCache interface {
	Load(ctx context.Context, examID uuid.UUID, studentID string) ([]byte, error)
	Save(ctx context.Context, examID uuid.UUID, studentID string, data []byte) error
	Delete(ctx context.Context, examID uuid.UUID, studentID string) error
}

// ErrCorruptSnapshot marks a snapshot that must be discarded.
var ErrCorruptSnapshot = errors.New("resume snapshot is corrupt")

const snapshotVersion = 1

// Snapshot is the resumable part of a session.
type Snapshot struct {
	Version      int                     `json:"v"`
	ExamID       uuid.UUID               `json:"exam_id"`
	StudentID    string                  `json:"student_id"`
	SavedAt      time.Time               `json:"saved_at"`
	Answers      map[string]model.Answer `json:"answers"`
	Flagged      []string                `json:"flagged,omitempty"`
	CurrentIndex int                     `json:"current_index"`
	Activity     []model.ActivityEvent   `json:"activity,omitempty"`
	TabSwitches  int                     `json:"tab_switches"`
}

// envelope pairs the snapshot body with a checksum over its exact bytes.
type envelope struct {
	Checksum string          `json:"checksum"`
	Body     json.RawMessage `json:"body"`
}

func checksum(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// EncodeSnapshot serializes a snapshot into its self-checking envelope.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	s.Version = snapshotVersion
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return json.Marshal(envelope{Checksum: checksum(body), Body: body})
}

// DecodeSnapshot parses and verifies an envelope. Any mismatch (bad JSON,
// checksum, version or owner) yields ErrCorruptSnapshot.
func DecodeSnapshot(data []byte, examID uuid.UUID, studentID string) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if len(env.Body) == 0 || env.Checksum != checksum(env.Body) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	var s Snapshot
	if err := json.Unmarshal(env.Body, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptSnapshot, s.Version)
	}
	if s.ExamID != examID || s.StudentID != studentID {
		return nil, fmt.Errorf("%w: snapshot belongs to another attempt", ErrCorruptSnapshot)
	}
	if s.Answers == nil {
		s.Answers = map[string]model.Answer{}
	}
	return &s, nil
}
