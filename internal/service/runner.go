package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

const (
	mailboxSize    = 64
	ioQueueSize    = 256
	subscriberSize = 32
	ioTimeout      = 5 * time.Second
	// submitTimeout bounds a whole retried persist, backoff included.
	submitTimeout = 2 * time.Minute
)

// ErrRunnerStopped is returned for commands sent to a runner that has exited.
var ErrRunnerStopped = errors.New("session runner has stopped")

// Queue hands session side effects to the background workers and the
// proctor monitor.
type Queue interface {
	PushAnswer(ctx context.Context, p model.AnswerProgress) error
	PushActivity(ctx context.Context, events []model.ActivityRecord) error
	PushScore(ctx context.Context, s model.ScoreRecord) error
	Publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error
}

// RunnerConfig holds the cadence of a runner's event sources.
type RunnerConfig struct {
	TimerTick        time.Duration
	SnapshotInterval time.Duration
	Now              func() time.Time
}

// View is the client-facing state of a live session.
type View struct {
	ExamID         uuid.UUID                  `json:"exam_id"`
	StudentID      string                     `json:"student_id"`
	Phase          session.Phase              `json:"phase"`
	Questions      []model.QuestionForStudent `json:"questions"`
	CurrentIndex   int                        `json:"current_index"`
	States         []session.QuestionState    `json:"states"`
	Answers        map[string]model.Answer    `json:"answers"`
	Flagged        []string                   `json:"flagged_question_ids"`
	Answered       int                        `json:"answered_count"`
	Unanswered     int                        `json:"unanswered_count"`
	HasNext        bool                       `json:"has_next"`
	HasPrevious    bool                       `json:"has_previous"`
	Remaining      int                        `json:"remaining_seconds"`
	Duration       int                        `json:"duration_seconds"`
	Urgency        session.Urgency            `json:"urgency"`
	TimerState     session.TimerState         `json:"timer_state"`
	TabSwitchCount int                        `json:"tab_switch_count"`
	SubmittedAt    *time.Time                 `json:"submitted_at,omitempty"`
}

func buildView(s *session.Session) View {
	questions := make([]model.QuestionForStudent, len(s.Questions()))
	for i, q := range s.Questions() {
		questions[i] = q.ForStudent()
	}
	nav := s.Navigator()
	answered, unanswered := nav.Counts()

	v := View{
		ExamID:         s.ExamID(),
		StudentID:      s.StudentID(),
		Phase:          s.Phase(),
		Questions:      questions,
		CurrentIndex:   nav.Index(),
		States:         nav.States(),
		Answers:        s.Answers().Answers(),
		Flagged:        s.Answers().FlaggedIDs(),
		Answered:       answered,
		Unanswered:     unanswered,
		HasNext:        nav.HasNext(),
		HasPrevious:    nav.HasPrevious(),
		Remaining:      s.Timer().Remaining(),
		Duration:       s.Timer().Total(),
		Urgency:        s.Timer().Urgency(),
		TimerState:     s.Timer().State(),
		TabSwitchCount: s.TabSwitchCount(),
	}
	if s.Phase() == session.PhaseSubmitted && s.Record() != nil {
		at := s.Record().SubmittedAt
		v.SubmittedAt = &at
	}
	return v
}

type submitResult struct {
	rec *model.Submission
	err error
}

// Runner owns one live Session. A single loop goroutine applies every event
// (client commands, timer ticks, snapshot ticks, relock checks and I/O
// completions) in arrival order, so the Session needs no locking. Network
// writes run in order on a separate I/O goroutine and never block the loop.
type Runner struct {
	sess      *session.Session
	finalizer *session.Finalizer
	cache     session.ResumeCache
	queue     Queue
	cfg       RunnerConfig
	log       zerolog.Logger
	onExit    func(*Runner)

	mailbox chan func()
	io      chan func(context.Context)
	// persisted carries the one in-flight submit outcome back to the loop.
	persisted chan submitResult
	stop      chan struct{}
	done      chan struct{}
	ioDone    chan struct{}
	once      sync.Once

	// Loop-owned.
	waiters  []chan submitResult
	finished bool

	mu     sync.Mutex
	subs   map[int]chan session.Signal
	nextID int
}

// NewRunner wires a runner around sess. The loop starts with Run.
func NewRunner(
	sess *session.Session,
	finalizer *session.Finalizer,
	cache session.ResumeCache,
	queue Queue,
	cfg RunnerConfig,
	log zerolog.Logger,
) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TimerTick <= 0 {
		cfg.TimerTick = time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 30 * time.Second
	}
	return &Runner{
		sess:      sess,
		finalizer: finalizer,
		cache:     cache,
		queue:     queue,
		cfg:       cfg,
		log:       logger.ForSession(log.With().Str("component", "session_runner").Logger(), sess.ExamID(), sess.StudentID()),
		mailbox:   make(chan func(), mailboxSize),
		io:        make(chan func(context.Context), ioQueueSize),
		persisted: make(chan submitResult, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ioDone:    make(chan struct{}),
		subs:      make(map[int]chan session.Signal),
	}
}

// Run starts the loop and I/O goroutines. initial are the signals returned by
// Session.Start; a timeout among them submits at once.
func (r *Runner) Run(initial []session.Signal) {
	go r.ioLoop()
	go r.loop(initial)
}

// Stop ends the runner without submitting, saving a final resume snapshot.
// A submission already persisting is completed first. It returns once
// pending I/O has drained.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.ioDone
}

// Done is closed when the loop has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) loop(initial []session.Signal) {
	defer r.exit()

	tick := time.NewTicker(r.cfg.TimerTick)
	defer tick.Stop()
	snapshot := time.NewTicker(r.cfg.SnapshotInterval)
	defer snapshot.Stop()

	r.publish(model.MonitorEvent{Type: model.MonitorEventJoined, Answered: r.sess.Answers().AnsweredCount()})
	r.emit(initial)

	for !r.finished {
		select {
		case <-r.stop:
			switch r.sess.Phase() {
			case session.PhaseActive:
				r.saveSnapshot()
			case session.PhaseSubmitting:
				r.awaitSubmit()
			}
			return
		case fn := <-r.mailbox:
			fn()
		case res := <-r.persisted:
			r.completeSubmit(res.rec, res.err)
		case <-tick.C:
			_, signals := r.sess.Tick()
			r.emit(signals)
		case <-snapshot.C:
			if r.sess.Phase() == session.PhaseActive {
				r.saveSnapshot()
			}
		}
	}
}

func (r *Runner) exit() {
	if r.onExit != nil {
		r.onExit(r)
	}
	close(r.done)
	close(r.io)

	for _, w := range r.waiters {
		w <- submitResult{err: ErrRunnerStopped}
	}
	r.waiters = nil

	r.mu.Lock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

func (r *Runner) ioLoop() {
	defer close(r.ioDone)
	for task := range r.io {
		task(context.Background())
	}
}

// post queues fn on the loop. It reports false once the loop has exited.
func (r *Runner) post(fn func()) bool {
	select {
	case r.mailbox <- fn:
		return true
	case <-r.done:
		return false
	}
}

// enqueue schedules I/O. Only the loop goroutine calls it.
func (r *Runner) enqueue(task func(ctx context.Context)) {
	r.io <- task
}

// bestEffort runs a side effect whose failure is logged and otherwise
// ignored. It is dropped rather than stalling the loop when I/O is backed up.
func (r *Runner) bestEffort(what string, fn func(ctx context.Context) error) {
	task := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, ioTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.log.Warn().Err(err).Str("op", what).Msg("Session side effect failed")
		}
	}
	select {
	case r.io <- task:
	default:
		r.log.Warn().Str("op", what).Msg("I/O queue full, dropping side effect")
	}
}

// exec runs fn on the loop and returns the resulting view.
func (r *Runner) exec(ctx context.Context, fn func() error) (View, error) {
	type reply struct {
		view View
		err  error
	}
	ch := make(chan reply, 1)
	ok := r.post(func() {
		err := fn()
		ch <- reply{view: buildView(r.sess), err: err}
	})
	if !ok {
		return View{}, r.stoppedErr()
	}

	select {
	case res := <-ch:
		return res.view, res.err
	case <-r.done:
		select {
		case res := <-ch:
			return res.view, res.err
		default:
			return View{}, r.stoppedErr()
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// stoppedErr explains why an exited runner refused a command. Only call it
// once done is closed.
func (r *Runner) stoppedErr() error {
	if r.sess.Phase() == session.PhaseSubmitted {
		return session.ErrSessionClosed
	}
	return ErrRunnerStopped
}

// View returns the current state. A runner that has exited reports its
// final state.
func (r *Runner) View(ctx context.Context) (View, error) {
	v, err := r.exec(ctx, func() error { return nil })
	if err == nil {
		return v, nil
	}
	select {
	case <-r.done:
		if ctx.Err() == nil {
			return buildView(r.sess), nil
		}
	default:
	}
	return v, err
}

// SetAnswer records an answer and queues it for the autosave worker.
func (r *Runner) SetAnswer(ctx context.Context, questionID string, value model.Answer) (View, error) {
	return r.exec(ctx, func() error {
		if err := r.sess.SetAnswer(questionID, value); err != nil {
			return err
		}
		r.answerChanged(questionID, &value)
		return nil
	})
}

// ClearAnswer removes an answer.
func (r *Runner) ClearAnswer(ctx context.Context, questionID string) (View, error) {
	return r.exec(ctx, func() error {
		if err := r.sess.ClearAnswer(questionID); err != nil {
			return err
		}
		r.answerChanged(questionID, nil)
		return nil
	})
}

func (r *Runner) Flag(ctx context.Context, questionID string) (View, error) {
	return r.exec(ctx, func() error { return r.sess.Flag(questionID) })
}

func (r *Runner) Unflag(ctx context.Context, questionID string) (View, error) {
	return r.exec(ctx, func() error { return r.sess.Unflag(questionID) })
}

func (r *Runner) GoTo(ctx context.Context, index int) (View, error) {
	return r.exec(ctx, func() error { return r.sess.GoTo(index) })
}

func (r *Runner) Next(ctx context.Context) (View, error) {
	return r.exec(ctx, func() error { r.sess.Next(); return nil })
}

func (r *Runner) Previous(ctx context.Context) (View, error) {
	return r.exec(ctx, func() error { r.sess.Previous(); return nil })
}

// KeyDown forwards a keyboard observation to the integrity monitor.
func (r *Runner) KeyDown(ctx context.Context, ev session.KeyEvent) error {
	_, err := r.exec(ctx, func() error {
		r.observed(r.sess.KeyDown(ev))
		return nil
	})
	return err
}

// Clipboard forwards a copy, cut or paste observation.
func (r *Runner) Clipboard(ctx context.Context, kind model.ActivityKind) error {
	_, err := r.exec(ctx, func() error {
		r.observed(r.sess.Clipboard(kind))
		return nil
	})
	return err
}

// VisibilityChange forwards a page visibility observation.
func (r *Runner) VisibilityChange(ctx context.Context, hidden bool) error {
	_, err := r.exec(ctx, func() error {
		r.observed(r.sess.VisibilityChange(hidden))
		return nil
	})
	return err
}

// FullscreenChange forwards a fullscreen observation.
func (r *Runner) FullscreenChange(ctx context.Context, fullscreen bool) error {
	_, err := r.exec(ctx, func() error {
		r.observed(r.sess.FullscreenChange(fullscreen))
		return nil
	})
	return err
}

// Submit finalizes the attempt and waits for the outcome. It is safe to call
// concurrently with a forced timeout submission; every caller receives the
// same record. A persistence failure leaves the session retryable.
func (r *Runner) Submit(ctx context.Context, trigger model.SubmitTrigger) (*model.Submission, error) {
	ch := make(chan submitResult, 1)
	if !r.post(func() { r.beginSubmit(trigger, ch) }) {
		return r.final()
	}

	select {
	case res := <-ch:
		return res.rec, res.err
	case <-r.done:
		select {
		case res := <-ch:
			return res.rec, res.err
		default:
			return r.final()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RetryFailedSubmit starts another persist of the frozen record when the last
// one failed, without waiting for it. The outcome arrives as a signal. It
// reports false when the attempt was not in submit_failed.
func (r *Runner) RetryFailedSubmit() bool {
	ch := make(chan bool, 1)
	ok := r.post(func() {
		retry := r.sess.Phase() == session.PhaseSubmitFailed
		if retry {
			r.log.Info().Msg("Retrying failed submission on reattach")
			r.beginSubmit(r.sess.Record().Trigger, nil)
		}
		ch <- retry
	})
	if !ok {
		return false
	}
	select {
	case retry := <-ch:
		return retry
	case <-r.done:
		select {
		case retry := <-ch:
			return retry
		default:
			return false
		}
	}
}

// final reports the outcome of a runner whose loop has exited. The loop no
// longer touches the session, so reading it here is safe.
func (r *Runner) final() (*model.Submission, error) {
	<-r.done
	if r.sess.Phase() == session.PhaseSubmitted {
		return r.sess.Record(), nil
	}
	return nil, ErrRunnerStopped
}

// Subscribe registers for signals. The channel is closed when the runner
// exits; cancel detaches early.
func (r *Runner) Subscribe() (<-chan session.Signal, func()) {
	ch := make(chan session.Signal, subscriberSize)

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			close(sub)
			delete(r.subs, id)
		}
	}
}

func (r *Runner) broadcast(sig session.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- sig:
		default:
			r.log.Warn().Str("signal", string(sig.Kind)).Msg("Subscriber is behind, dropping signal")
		}
	}
}

// emit routes session signals. Relock requests are held back until their
// grace delay passes, and a timeout triggers the forced submission after the
// student has been notified.
func (r *Runner) emit(signals []session.Signal) {
	for _, sig := range signals {
		switch sig.Kind {
		case session.SignalFullscreenRelock:
			r.scheduleRelock(sig)
		case session.SignalTimeout:
			r.broadcast(sig)
			r.log.Info().Msg("Time is up, submitting")
			r.beginSubmit(model.SubmitTriggerTimeout, nil)
		default:
			r.broadcast(sig)
		}
	}
}

func (r *Runner) scheduleRelock(sig session.Signal) {
	time.AfterFunc(sig.Delay, func() {
		r.post(func() {
			if r.sess.NeedsRelock() {
				r.broadcast(sig)
			}
		})
	})
}

func (r *Runner) observed(events []model.ActivityEvent, signals []session.Signal) {
	if len(events) > 0 {
		records := make([]model.ActivityRecord, len(events))
		for i, ev := range events {
			records[i] = model.ActivityRecord{
				ExamID:    r.sess.ExamID(),
				StudentID: r.sess.StudentID(),
				Kind:      ev.Kind,
				Timestamp: ev.Timestamp,
			}
		}
		r.bestEffort("push_activity", func(ctx context.Context) error {
			return r.queue.PushActivity(ctx, records)
		})
		for _, ev := range events {
			r.publish(model.MonitorEvent{Type: model.MonitorEventActivity, Activity: ev.Kind, Timestamp: ev.Timestamp})
		}
	}
	r.emit(signals)
}

func (r *Runner) answerChanged(questionID string, value *model.Answer) {
	progress := model.AnswerProgress{
		ExamID:     r.sess.ExamID(),
		StudentID:  r.sess.StudentID(),
		QuestionID: questionID,
		Answer:     value,
		UpdatedAt:  r.cfg.Now().UTC(),
	}
	r.bestEffort("push_answer", func(ctx context.Context) error {
		return r.queue.PushAnswer(ctx, progress)
	})
	r.publish(model.MonitorEvent{
		Type:      model.MonitorEventAnswered,
		Answered:  r.sess.Answers().AnsweredCount(),
		Timestamp: progress.UpdatedAt,
	})
}

func (r *Runner) publish(ev model.MonitorEvent) {
	ev.StudentID = r.sess.StudentID()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.cfg.Now().UTC()
	}
	r.bestEffort("publish_monitor", func(ctx context.Context) error {
		return r.queue.Publish(ctx, r.sess.ExamID(), ev)
	})
}

func (r *Runner) saveSnapshot() {
	snap := r.sess.Snapshot()
	r.enqueue(func(ctx context.Context) { r.writeSnapshot(ctx, snap) })
}

func (r *Runner) writeSnapshot(ctx context.Context, snap session.Snapshot) {
	if r.cache == nil {
		return
	}
	data, err := session.EncodeSnapshot(snap)
	if err != nil {
		r.log.Error().Err(err).Msg("Encode resume snapshot failed")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()
	if err := r.cache.Save(ctx, snap.ExamID, snap.StudentID, data); err != nil {
		r.log.Warn().Err(err).Msg("Save resume snapshot failed")
	}
}

// beginSubmit runs on the loop. reply may be nil for the forced path.
func (r *Runner) beginSubmit(trigger model.SubmitTrigger, reply chan submitResult) {
	snap := r.sess.Snapshot()
	rec, err := r.sess.BeginSubmit(trigger)

	switch {
	case errors.Is(err, session.ErrAlreadySubmitted):
		if reply != nil {
			reply <- submitResult{rec: rec}
		}
		return
	case errors.Is(err, session.ErrSubmitInFlight):
		if reply != nil {
			r.waiters = append(r.waiters, reply)
		}
		return
	case err != nil:
		if reply != nil {
			reply <- submitResult{err: err}
		}
		return
	}

	if reply != nil {
		r.waiters = append(r.waiters, reply)
	}
	r.log.Info().Str("trigger", string(rec.Trigger)).Msg("Submitting attempt")

	r.enqueue(func(ctx context.Context) {
		// The snapshot must land before the persist so a crash mid-submit
		// still resumes with every captured answer.
		r.writeSnapshot(ctx, snap)

		ctx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()
		r.persisted <- submitResult{rec: rec, err: r.finalizer.Persist(ctx, rec)}
	})
}

// awaitSubmit lets a persist already under way finish during Stop, so the
// attempt is still scored and marked completed.
func (r *Runner) awaitSubmit() {
	t := time.NewTimer(submitTimeout + ioTimeout)
	defer t.Stop()
	select {
	case res := <-r.persisted:
		r.completeSubmit(res.rec, res.err)
	case <-t.C:
		r.log.Error().Msg("Runner stopped before the submission finished persisting")
	}
}

func (r *Runner) completeSubmit(rec *model.Submission, err error) {
	for _, sig := range r.sess.CompleteSubmit(err) {
		r.broadcast(sig)
	}

	var out error
	if err != nil {
		out = fmt.Errorf("submit: %w", err)
		r.log.Error().Err(err).Msg("Submission failed, attempt kept for retry")
	}
	for _, w := range r.waiters {
		w <- submitResult{rec: rec, err: out}
	}
	r.waiters = nil
	if err != nil {
		return
	}

	r.log.Info().
		Int("answered", len(rec.Answers)).
		Int("time_spent", rec.TimeSpentSeconds).
		Int("tab_switches", rec.TabSwitchCount).
		Msg("Attempt submitted")

	grade := Grade(r.sess.Questions(), rec.Answers)
	score := model.ScoreRecord{
		ExamID:      rec.ExamID,
		StudentID:   rec.StudentID,
		GradeResult: grade,
		GradedAt:    r.cfg.Now().UTC(),
	}
	r.bestEffort("push_score", func(ctx context.Context) error {
		return r.queue.PushScore(ctx, score)
	})
	r.publish(model.MonitorEvent{Type: model.MonitorEventSubmitted, Trigger: rec.Trigger, Answered: len(rec.Answers)})
	r.finished = true
}
