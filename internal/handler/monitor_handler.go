package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

type monitorExam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration"`
	TotalQuestions  int       `json:"total_questions"`
}

type monitorMessage struct {
	Type string       `json:"type"`
	Exam *monitorExam `json:"exam,omitempty"`
	Data interface{}  `json:"data,omitempty"`
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Streams a progress snapshot, then live session events relayed from Redis
// Pub/Sub, with a periodic refresh of the counts.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	exam, err := h.examService.GetByID(reqCtx, examID)
	if err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	totalQuestions, err := h.examService.QuestionCount(reqCtx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Question count unavailable")
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, "snapshot", examID, &monitorExam{
		ID:              exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		TotalQuestions:  totalQuestions,
	})

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until something has happened since the last one.
	dirty := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are published as JSON already; forward them untouched.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendSnapshot(c, reqCtx, "refresh", examID, nil)
			dirty = false

		case <-keepAliveTicker.C:
			c.SSEvent("message", monitorMessage{Type: "ping"})
			c.Writer.Flush()
		}
	}
}

// sendSnapshot writes the current progress of every attempt as one event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, kind string, examID uuid.UUID, exam *monitorExam) {
	// Scoped timeout prevents a slow query from stalling the SSE loop
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch student progress")
		if exam == nil {
			return
		}
		progress = &service.ProgressSnapshot{Students: []service.StudentProgress{}}
	}

	c.SSEvent("message", monitorMessage{Type: kind, Exam: exam, Data: progress})
	c.Writer.Flush()
}
