package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFixture struct {
	runner      *Runner
	signals     <-chan session.Signal
	submissions *fakeSubmissions
	queue       *fakeQueue
	initial     []session.Signal
}

func newRunnerFixture(t *testing.T, duration, elapsed int, policy session.IntegrityPolicy, tick time.Duration) *runnerFixture {
	t.Helper()
	sess, err := session.New(session.Params{
		ExamID:          testExamID,
		StudentID:       testStudent,
		Questions:       scenarioQuestions(),
		DurationSeconds: duration,
		ElapsedSeconds:  elapsed,
	}, session.Config{Thresholds: session.Thresholds{WarningSeconds: 2, CriticalSeconds: 1}, Integrity: policy})
	require.NoError(t, err)
	initial, err := sess.Start()
	require.NoError(t, err)

	f := &runnerFixture{
		submissions: &fakeSubmissions{stored: map[string]*model.Submission{}},
		queue:       &fakeQueue{},
		initial:     initial,
	}
	retry := session.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	finalizer := session.NewFinalizer(f.submissions, nil, retry, zerolog.Nop())
	f.runner = NewRunner(sess, finalizer, nil, f.queue, RunnerConfig{TimerTick: tick, SnapshotInterval: time.Hour}, zerolog.Nop())

	var cancel func()
	f.signals, cancel = f.runner.Subscribe()
	t.Cleanup(func() {
		cancel()
		f.runner.Stop()
	})
	return f
}

func TestRunnerTimeoutNotifiesThenSubmits(t *testing.T) {
	f := newRunnerFixture(t, 3, 0, session.DefaultIntegrityPolicy, 5*time.Millisecond)
	f.runner.Run(f.initial)

	got := collect(t, f.signals, session.SignalSubmitted)
	ks := kinds(got)

	assert.Equal(t, session.SignalTick, ks[0])
	assert.Contains(t, ks, session.SignalUrgency)

	timeoutAt, submittedAt := -1, -1
	for i, k := range ks {
		switch k {
		case session.SignalTimeout:
			timeoutAt = i
		case session.SignalSubmitted:
			submittedAt = i
		}
	}
	require.NotEqual(t, -1, timeoutAt)
	assert.Less(t, timeoutAt, submittedAt, "the student is told before the forced submit lands")

	// Remaining time strictly decreases by one per tick.
	var remaining []int
	for _, s := range got {
		if s.Kind == session.SignalTick {
			remaining = append(remaining, s.Remaining)
		}
	}
	assert.Equal(t, []int{3, 2, 1, 0}, remaining)

	<-f.runner.Done()
	assert.Equal(t, 1, f.submissions.count())
	assert.Equal(t, model.SubmitTriggerTimeout, f.submissions.get(testExamID, testStudent).Trigger)
}

func TestRunnerManualSubmitCancelsTimer(t *testing.T) {
	f := newRunnerFixture(t, 600, 0, session.DefaultIntegrityPolicy, 2*time.Millisecond)
	f.runner.Run(f.initial)

	rec, err := f.runner.Submit(context.Background(), model.SubmitTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitTriggerManual, rec.Trigger)

	<-f.runner.Done()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.submissions.calls, "no expiry submission fires after a manual submit")

	again, err := f.runner.Submit(context.Background(), model.SubmitTriggerTimeout)
	require.NoError(t, err)
	assert.Same(t, rec, again)
}

func TestRunnerRecordsIntegrityEvents(t *testing.T) {
	f := newRunnerFixture(t, 600, 0, session.DefaultIntegrityPolicy, time.Hour)
	f.runner.Run(f.initial)
	ctx := context.Background()

	require.NoError(t, f.runner.KeyDown(ctx, session.KeyEvent{Key: "c", Ctrl: true}))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.runner.VisibilityChange(ctx, true))
		require.NoError(t, f.runner.VisibilityChange(ctx, false))
	}

	got := collect(t, f.signals, session.SignalTabSwitchWarning)
	assert.Contains(t, kinds(got), session.SignalPrevent)
	assert.Equal(t, 3, got[len(got)-1].Count)

	v, err := f.runner.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v.TabSwitchCount)

	assert.Eventually(t, func() bool {
		_, activity, _, _ := f.queue.snapshot()
		return len(activity) == 4
	}, time.Second, 5*time.Millisecond)
	_, activity, _, events := f.queue.snapshot()
	assert.Equal(t, model.ActivityCopy, activity[0].Kind)
	for _, a := range activity[1:] {
		assert.Equal(t, model.ActivityTabSwitch, a.Kind)
	}

	var activityEvents int
	for _, ev := range events {
		if ev.Type == model.MonitorEventActivity {
			activityEvents++
		}
	}
	assert.Equal(t, 4, activityEvents)
}

func TestRunnerFullscreenRelockIsDelayed(t *testing.T) {
	policy := session.IntegrityPolicy{FullscreenRelockDelay: 20 * time.Millisecond}
	f := newRunnerFixture(t, 600, 0, policy, time.Hour)
	f.runner.Run(f.initial)
	ctx := context.Background()

	require.NoError(t, f.runner.FullscreenChange(ctx, true))
	start := time.Now()
	require.NoError(t, f.runner.FullscreenChange(ctx, false))

	got := collect(t, f.signals, session.SignalFullscreenRelock)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, got[len(got)-1].Count)

	// Fullscreen restored within the grace delay: no relock is requested.
	require.NoError(t, f.runner.FullscreenChange(ctx, false))
	require.NoError(t, f.runner.FullscreenChange(ctx, true))
	require.NoError(t, f.runner.FullscreenChange(ctx, false))
	require.NoError(t, f.runner.FullscreenChange(ctx, true))
	time.Sleep(60 * time.Millisecond)

	for {
		select {
		case sig := <-f.signals:
			assert.NotEqual(t, session.SignalFullscreenRelock, sig.Kind)
			continue
		default:
		}
		break
	}
}

func TestRunnerRejectsInvalidAnswers(t *testing.T) {
	f := newRunnerFixture(t, 600, 0, session.DefaultIntegrityPolicy, time.Hour)
	f.runner.Run(f.initial)
	ctx := context.Background()

	_, err := f.runner.SetAnswer(ctx, "q1", model.ChoiceAnswer(5))
	assert.ErrorIs(t, err, session.ErrInvalidAnswer)
	_, err = f.runner.SetAnswer(ctx, "nope", model.ChoiceAnswer(0))
	assert.ErrorIs(t, err, session.ErrUnknownQuestion)
	_, err = f.runner.GoTo(ctx, 3)
	assert.ErrorIs(t, err, session.ErrIndexOutOfRange)

	v, err := f.runner.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.CurrentIndex)
	v, err = f.runner.Flag(ctx, "q2")
	require.NoError(t, err)
	assert.True(t, v.States[1].Flagged)
	assert.True(t, v.States[1].Current)

	answers, _, _, _ := f.queue.snapshot()
	assert.Empty(t, answers, "rejected answers are never queued")
}

// gatedSubmissions holds every write until release is closed.
type gatedSubmissions struct {
	*fakeSubmissions
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSubmissions) PutSubmission(ctx context.Context, rec *model.Submission) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeSubmissions.PutSubmission(ctx, rec)
}

func TestRunnerStopDuringPersistStillCompletesSubmit(t *testing.T) {
	sess, err := session.New(session.Params{
		ExamID:          testExamID,
		StudentID:       testStudent,
		Questions:       scenarioQuestions(),
		DurationSeconds: 600,
	}, session.Config{Thresholds: session.DefaultThresholds, Integrity: session.DefaultIntegrityPolicy})
	require.NoError(t, err)
	initial, err := sess.Start()
	require.NoError(t, err)

	store := &gatedSubmissions{
		fakeSubmissions: &fakeSubmissions{stored: map[string]*model.Submission{}},
		entered:         make(chan struct{}, 1),
		release:         make(chan struct{}),
	}
	queue := &fakeQueue{}
	retry := session.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	r := NewRunner(sess, session.NewFinalizer(store, nil, retry, zerolog.Nop()), nil, queue,
		RunnerConfig{TimerTick: time.Hour, SnapshotInterval: time.Hour}, zerolog.Nop())
	r.Run(initial)

	submitted := make(chan error, 1)
	go func() {
		_, err := r.Submit(context.Background(), model.SubmitTriggerManual)
		submitted <- err
	}()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("persist never started")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	<-r.stop
	// Let the loop take the stop branch before the write lands.
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.NoError(t, <-submitted)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, session.PhaseSubmitted, sess.Phase())

	_, _, scores, events := queue.snapshot()
	require.Len(t, scores, 1, "the attempt is scored even though the runner was stopped")
	assert.Equal(t, testStudent, scores[0].StudentID)
	require.NotEmpty(t, events)
	assert.Equal(t, model.MonitorEventSubmitted, events[len(events)-1].Type)
}
