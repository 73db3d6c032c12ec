package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var examID = uuid.MustParse("3f1c6d0e-8a4b-4c55-9d1e-0b7a2e4c9f10")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestResumeCacheRepository(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewResumeCacheRepository(rdb, time.Hour)
	ctx := context.Background()

	data, err := repo.Load(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Nil(t, data, "missing snapshot is absent, not an error")

	require.NoError(t, repo.Save(ctx, examID, "s1", []byte(`{"v":1}`)))
	data, err = repo.Load(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	key := config.CacheKey.ResumeSnapshotKey(examID.String(), "s1")
	assert.Equal(t, time.Hour, mr.TTL(key))

	require.NoError(t, repo.Delete(ctx, examID, "s1"))
	require.NoError(t, repo.Delete(ctx, examID, "s1"))
	assert.False(t, mr.Exists(key))

	require.NoError(t, repo.Save(ctx, examID, "s2", []byte("x")))
	mr.FastForward(2 * time.Hour)
	data, err = repo.Load(ctx, examID, "s2")
	require.NoError(t, err)
	assert.Nil(t, data, "snapshot expires")
}

type stubDurable struct {
	order []string
	err   error
	calls int
}

func (s *stubDurable) LoadOrder(context.Context, uuid.UUID, string) ([]string, error) {
	s.calls++
	return s.order, s.err
}

func TestQuestionOrderRepositorySaveAndLoad(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewQuestionOrderRepository(rdb, nil, time.Hour)
	ctx := context.Background()

	order, err := repo.LoadOrder(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Nil(t, order)

	winner, err := repo.SaveOrder(ctx, examID, "s1", []string{"b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, winner)

	winner, err = repo.SaveOrder(ctx, examID, "s1", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, winner, "an existing order is never overwritten")

	order, err = repo.LoadOrder(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, order)

	queued, err := mr.List(config.WorkerKey.PersistQuestionOrderQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var rec model.QuestionOrderRecord
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &rec))
	assert.Equal(t, examID, rec.ExamID)
	assert.Equal(t, "s1", rec.StudentID)
	assert.Equal(t, []string{"b", "c", "a"}, rec.Order)
}

func TestQuestionOrderRepositoryReplaceOrder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewQuestionOrderRepository(rdb, nil, time.Hour)
	ctx := context.Background()

	_, err := repo.SaveOrder(ctx, examID, "s1", []string{"a", "gone"})
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceOrder(ctx, examID, "s1", []string{"c", "a"}))

	order, err := repo.LoadOrder(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, order)

	queued, err := mr.List(config.WorkerKey.PersistQuestionOrderQueue)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	var rec model.QuestionOrderRecord
	require.NoError(t, json.Unmarshal([]byte(queued[1]), &rec))
	assert.True(t, rec.Replace)
	assert.Equal(t, []string{"c", "a"}, rec.Order)
}

func TestConcurrentLoadsAgreeOnOneOrder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewQuestionOrderRepository(rdb, nil, time.Hour)
	src := staticQuestions{}
	for i := 0; i < 8; i++ {
		src = append(src, model.Question{ID: fmt.Sprintf("q%d", i), ExamID: examID})
	}

	const starts = 8
	results := make([][]string, starts)
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(uint64(i), uint64(i)+1))
			got, err := session.NewLoader(src, repo, rnd, zerolog.Nop()).Load(context.Background(), examID, "s1")
			if assert.NoError(t, err) {
				results[i] = session.QuestionIDs(got)
			}
		}(i)
	}
	wg.Wait()

	stored, err := repo.LoadOrder(context.Background(), examID, "s1")
	require.NoError(t, err)
	for i, got := range results {
		assert.Equal(t, stored, got, "start %d", i)
	}

	queued, err := mr.List(config.WorkerKey.PersistQuestionOrderQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 1, "only the winning order is persisted")
}

type staticQuestions []model.Question

func (s staticQuestions) ListQuestions(context.Context, uuid.UUID) ([]model.Question, error) {
	return s, nil
}

func TestQuestionOrderRepositoryFallsBackToDurableStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	durable := &stubDurable{order: []string{"q2", "q1"}}
	repo := NewQuestionOrderRepository(rdb, durable, time.Hour)
	ctx := context.Background()

	order, err := repo.LoadOrder(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "q1"}, order)
	assert.True(t, mr.Exists(config.CacheKey.StudentQuestionOrderKey(examID.String(), "s1")), "cache is healed")

	_, err = repo.LoadOrder(ctx, examID, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, durable.calls)

	none := NewQuestionOrderRepository(rdb, &stubDurable{err: pgx.ErrNoRows}, time.Hour)
	order, err = none.LoadOrder(ctx, examID, "nobody")
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestQueueRepository(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewQueueRepository(rdb)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	choice := model.ChoiceAnswer(2)
	require.NoError(t, repo.PushAnswer(ctx, model.AnswerProgress{ExamID: examID, StudentID: "s1", QuestionID: "q1", Answer: &choice, UpdatedAt: now}))
	require.NoError(t, repo.PushAnswer(ctx, model.AnswerProgress{ExamID: examID, StudentID: "s1", QuestionID: "q1", UpdatedAt: now}))

	answers, err := mr.List(config.WorkerKey.PersistAnswersQueue)
	require.NoError(t, err)
	require.Len(t, answers, 2)

	var set, cleared model.AnswerProgress
	require.NoError(t, json.Unmarshal([]byte(answers[0]), &set))
	require.NoError(t, json.Unmarshal([]byte(answers[1]), &cleared))
	require.NotNil(t, set.Answer)
	assert.Equal(t, "2", set.Answer.String())
	assert.Nil(t, cleared.Answer)

	require.NoError(t, repo.PushActivity(ctx, nil))
	require.NoError(t, repo.PushActivity(ctx, []model.ActivityRecord{
		{ExamID: examID, StudentID: "s1", Kind: model.ActivityCopy, Timestamp: now},
		{ExamID: examID, StudentID: "s1", Kind: model.ActivityTabSwitch, Timestamp: now},
	}))
	activity, err := mr.List(config.WorkerKey.PersistActivityQueue)
	require.NoError(t, err)
	assert.Len(t, activity, 2)

	require.NoError(t, repo.PushScore(ctx, model.ScoreRecord{
		ExamID: examID, StudentID: "s1",
		GradeResult: model.GradeResult{Score: 3, MaxScore: 6, PendingReview: 1},
		GradedAt:    now,
	}))
	scores, err := mr.List(config.WorkerKey.PersistScoresQueue)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Contains(t, scores[0], `"score":3`)
	assert.Contains(t, scores[0], `"max_score":6`)
}

func TestQueueRepositoryPublish(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewQueueRepository(rdb)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Publish(ctx, examID, model.MonitorEvent{Type: model.MonitorEventJoined, StudentID: "s1"}))

	select {
	case msg := <-sub.Channel():
		var ev model.MonitorEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, model.MonitorEventJoined, ev.Type)
		assert.Equal(t, "s1", ev.StudentID)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor event not delivered")
	}
}

func TestQuestionRepositoryServesCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	correct := model.ChoiceAnswer(0)
	cached := []model.Question{
		{ID: "q1", ExamID: examID, Kind: model.QuestionKindMultipleChoice, Text: "?", Options: []string{"a", "b"}, Correct: &correct, Points: 1},
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(context.Background(), config.CacheKey.ExamQuestionsKey(examID.String()), raw, time.Minute).Err())

	// The pool is never touched on a cache hit.
	repo := NewQuestionRepository(nil, rdb, zerolog.Nop())
	got, err := repo.ListQuestions(context.Background(), examID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Correct)
	assert.True(t, got[0].Correct.Equal(correct))
}
