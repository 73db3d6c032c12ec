package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// Phase is the submission lifecycle of a session.
type Phase string

const (
	PhaseActive       Phase = "active"
	PhaseSubmitting   Phase = "submitting"
	PhaseSubmitFailed Phase = "submit_failed"
	PhaseSubmitted    Phase = "submitted"
)

// Config carries the tunable policy of a session.
type Config struct {
	Thresholds Thresholds
	Integrity  IntegrityPolicy
	Now        func() time.Time
}

// Params describes the attempt a Session is built for.
type Params struct {
	ExamID    uuid.UUID
	StudentID string
	// Questions must already be in their fixed display order.
	Questions       []model.Question
	DurationSeconds int
	// ElapsedSeconds is the time already consumed by a resumed attempt.
	ElapsedSeconds int
	Restore        *Snapshot
}

// Session is the mutable aggregate of one exam attempt. It is not safe for
// concurrent use; a single owner goroutine drives every mutation.
type Session struct {
	examID    uuid.UUID
	studentID string
	questions []model.Question
	duration  int
	elapsed   int

	answers *AnswerStore
	nav     *Navigator
	timer   *Countdown
	monitor *Monitor
	now     func() time.Time

	phase  Phase
	record *model.Submission
}

// New builds a session and merges a resume snapshot, if given, before any
// question is shown. Snapshot entries that no longer fit the exam are dropped.
func New(p Params, cfg Config) (*Session, error) {
	if len(p.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	answers := NewAnswerStore(p.Questions)
	s := &Session{
		examID:    p.ExamID,
		studentID: p.StudentID,
		questions: p.Questions,
		duration:  p.DurationSeconds,
		elapsed:   p.ElapsedSeconds,
		answers:   answers,
		nav:       NewNavigator(p.Questions, answers),
		timer:     NewCountdown(cfg.Thresholds),
		monitor:   NewMonitor(cfg.Integrity, cfg.Now),
		now:       cfg.Now,
		phase:     PhaseActive,
	}

	if p.Restore != nil {
		s.restore(p.Restore)
	}
	return s, nil
}

func (s *Session) restore(snap *Snapshot) {
	for id, a := range snap.Answers {
		_ = s.answers.Set(id, a)
	}
	for _, id := range snap.Flagged {
		_ = s.answers.Flag(id)
	}
	_ = s.nav.GoTo(snap.CurrentIndex)
	s.monitor.RestoreCounters(snap.Activity, snap.TabSwitches)
}

// Start runs the countdown. An attempt whose time is already spent expires
// at once and reports a timeout signal.
func (s *Session) Start() ([]Signal, error) {
	if err := s.timer.Resume(s.duration, s.duration-s.elapsed); err != nil {
		return nil, err
	}
	if s.timer.State() == TimerExpired {
		return []Signal{{Kind: SignalTimeout}}, nil
	}
	return []Signal{{Kind: SignalTick, Remaining: s.timer.Remaining(), Urgency: s.timer.Urgency()}}, nil
}

func (s *Session) open() error {
	if s.phase != PhaseActive {
		return fmt.Errorf("%w: phase is %s", ErrSessionClosed, s.phase)
	}
	return nil
}

// SetAnswer records an answer while the attempt is active.
func (s *Session) SetAnswer(questionID string, value model.Answer) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.answers.Set(questionID, value)
}

// ClearAnswer removes the answer to questionID.
func (s *Session) ClearAnswer(questionID string) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.answers.Remove(questionID)
}

// Flag marks a question for review.
func (s *Session) Flag(questionID string) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.answers.Flag(questionID)
}

// Unflag removes a review mark.
func (s *Session) Unflag(questionID string) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.answers.Unflag(questionID)
}

// GoTo moves to the question at index i.
func (s *Session) GoTo(i int) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.nav.GoTo(i)
}

// Next moves forward one question and reports whether it moved.
func (s *Session) Next() bool {
	if s.open() != nil {
		return false
	}
	return s.nav.Next()
}

// Previous moves back one question and reports whether it moved.
func (s *Session) Previous() bool {
	if s.open() != nil {
		return false
	}
	return s.nav.Previous()
}

// Tick advances the countdown by one second.
func (s *Session) Tick() (TickResult, []Signal) {
	res := s.timer.Tick()
	if s.timer.State() != TimerRunning && !res.Expired {
		return res, nil
	}

	signals := []Signal{{Kind: SignalTick, Remaining: res.Remaining, Urgency: res.Urgency}}
	if res.UrgencyChanged {
		signals = append(signals, Signal{Kind: SignalUrgency, Remaining: res.Remaining, Urgency: res.Urgency})
	}
	if res.Expired {
		signals = append(signals, Signal{Kind: SignalTimeout})
	}
	return res, signals
}

// Integrity observations are recorded only while the attempt is active.

func (s *Session) KeyDown(ev KeyEvent) ([]model.ActivityEvent, []Signal) {
	if s.open() != nil {
		return nil, nil
	}
	return s.monitor.OnKeyDown(ev)
}

func (s *Session) Clipboard(kind model.ActivityKind) ([]model.ActivityEvent, []Signal) {
	if s.open() != nil {
		return nil, nil
	}
	return s.monitor.OnClipboard(kind)
}

func (s *Session) VisibilityChange(hidden bool) ([]model.ActivityEvent, []Signal) {
	if s.open() != nil {
		return nil, nil
	}
	return s.monitor.OnVisibilityChange(hidden)
}

func (s *Session) FullscreenChange(fullscreen bool) ([]model.ActivityEvent, []Signal) {
	if s.open() != nil {
		return nil, nil
	}
	return s.monitor.OnFullscreenChange(fullscreen)
}

// NeedsRelock reports whether a delayed fullscreen request is still wanted.
func (s *Session) NeedsRelock() bool {
	return s.phase == PhaseActive && !s.monitor.IsFullscreen()
}

// BeginSubmit is the one-shot entry guard of submission. The first call stops
// the countdown and freezes an immutable record; while that record is being
// persisted further calls get ErrSubmitInFlight, and once it is persisted
// ErrAlreadySubmitted. After a failed persist the same record is handed out
// again so a retry never re-captures answers or time.
func (s *Session) BeginSubmit(trigger model.SubmitTrigger) (*model.Submission, error) {
	switch s.phase {
	case PhaseSubmitted:
		return s.record, ErrAlreadySubmitted
	case PhaseSubmitting:
		return s.record, ErrSubmitInFlight
	case PhaseSubmitFailed:
		s.phase = PhaseSubmitting
		return s.record, nil
	}

	s.timer.Stop()
	s.record = &model.Submission{
		ExamID:             s.examID,
		StudentID:          s.studentID,
		Answers:            s.answers.Answers(),
		SubmittedAt:        s.now().UTC(),
		TimeSpentSeconds:   s.timer.Elapsed(),
		FlaggedQuestionIDs: s.answers.FlaggedIDs(),
		SuspiciousActivity: s.monitor.Log(),
		TabSwitchCount:     s.monitor.TabSwitchCount(),
		Trigger:            trigger,
	}
	s.phase = PhaseSubmitting
	return s.record, nil
}

// CompleteSubmit records the outcome of persisting the record.
func (s *Session) CompleteSubmit(err error) []Signal {
	if s.phase != PhaseSubmitting {
		return nil
	}
	if err != nil {
		s.phase = PhaseSubmitFailed
		return []Signal{{Kind: SignalSubmitFailed, Error: err.Error()}}
	}
	s.phase = PhaseSubmitted
	return []Signal{{Kind: SignalSubmitted, Record: s.record}}
}

// Snapshot captures the resumable state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Version:      snapshotVersion,
		ExamID:       s.examID,
		StudentID:    s.studentID,
		SavedAt:      s.now().UTC(),
		Answers:      s.answers.Answers(),
		Flagged:      s.answers.FlaggedIDs(),
		CurrentIndex: s.nav.Index(),
		Activity:     s.monitor.Log(),
		TabSwitches:  s.monitor.TabSwitchCount(),
	}
}

func (s *Session) ExamID() uuid.UUID               { return s.examID }
func (s *Session) StudentID() string               { return s.studentID }
func (s *Session) Phase() Phase                    { return s.phase }
func (s *Session) Record() *model.Submission       { return s.record }
func (s *Session) Questions() []model.Question     { return s.questions }
func (s *Session) Answers() *AnswerStore           { return s.answers }
func (s *Session) Navigator() *Navigator           { return s.nav }
func (s *Session) Timer() *Countdown               { return s.timer }
func (s *Session) Activity() []model.ActivityEvent { return s.monitor.Log() }
func (s *Session) TabSwitchCount() int             { return s.monitor.TabSwitchCount() }
