package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

var testExamID = uuid.MustParse("7b0c3a52-0f7e-4d0c-9a57-2c1e2f9b6a11")

const testStudentID = "student-42"

func testQuestions() []model.Question {
	correctChoice := model.ChoiceAnswer(1)
	correctBool := model.BoolAnswer(false)
	return []model.Question{
		{ID: "q1", ExamID: testExamID, Kind: model.QuestionKindMultipleChoice, Text: "2 + 2 = ?", Options: []string{"3", "4", "5", "22"}, Correct: &correctChoice, Points: 2, OrderNum: 1},
		{ID: "q2", ExamID: testExamID, Kind: model.QuestionKindTrueFalse, Text: "The sun orbits the earth.", Correct: &correctBool, Points: 1, OrderNum: 2},
		{ID: "q3", ExamID: testExamID, Kind: model.QuestionKindShortAnswer, Text: "Name a prime number.", Points: 3, OrderNum: 3},
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSession(clock *fakeClock, duration int, restore *Snapshot) (*Session, error) {
	return New(Params{
		ExamID:          testExamID,
		StudentID:       testStudentID,
		Questions:       testQuestions(),
		DurationSeconds: duration,
		Restore:         restore,
	}, Config{
		Thresholds: DefaultThresholds,
		Integrity:  DefaultIntegrityPolicy,
		Now:        clock.Now,
	})
}

// memCache is an in-memory ResumeCache.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) key(examID uuid.UUID, studentID string) string {
	return examID.String() + "/" + studentID
}

func (c *memCache) Load(_ context.Context, examID uuid.UUID, studentID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[c.key(examID, studentID)], nil
}

func (c *memCache) Save(_ context.Context, examID uuid.UUID, studentID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(examID, studentID)] = data
	return nil
}

func (c *memCache) Delete(_ context.Context, examID uuid.UUID, studentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, c.key(examID, studentID))
	c.deletes++
	return nil
}
