package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

const (
	metricsInterval = 7 * time.Second
	healthTimeout   = 2 * time.Second
)

// liveCounter reports the number of running exam sessions.
type liveCounter interface {
	Live() int
}

// SystemHandler serves the health check and the admin metrics stream.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  liveCounter
	proc      procFS
	startTime time.Time
	cpuModel  string
	log       zerolog.Logger

	// Last CPU sample; several admins may stream at once.
	cpuMu     sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessions liveCounter, log zerolog.Logger) *SystemHandler {
	h := &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		sessions:  sessions,
		proc:      procFS{root: "/proc"},
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
	h.cpuModel = h.proc.cpuModel()
	h.prevIdle, h.prevTotal, _ = h.proc.cpuTimes()
	return h
}

// Health godoc
// GET /health
// Reports whether PostgreSQL and Redis are reachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true
	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks, "live_sessions": h.sessions.Live()})
}

type hostMetrics struct {
	CPUPercent     float64    `json:"cpu_percent"`
	CPUModel       string     `json:"cpu_model"`
	NumCPU         int        `json:"num_cpu"`
	MemUsedBytes   uint64     `json:"mem_used_bytes"`
	MemTotalBytes  uint64     `json:"mem_total_bytes"`
	DiskUsedBytes  uint64     `json:"disk_used_bytes"`
	DiskTotalBytes uint64     `json:"disk_total_bytes"`
	LoadAvg        [3]float64 `json:"load_avg"`
}

type runtimeMetrics struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	RSSBytes   uint64 `json:"rss_bytes"`
}

// queueDepths mirrors the Redis lists drained by the workers.
type queueDepths struct {
	Answers       int64 `json:"answers"`
	Activity      int64 `json:"activity"`
	Scores        int64 `json:"scores"`
	QuestionOrder int64 `json:"question_order"`
}

type systemMetrics struct {
	Timestamp    int64          `json:"timestamp"`
	Uptime       string         `json:"uptime"`
	LiveSessions int            `json:"live_sessions"`
	Host         hostMetrics    `json:"host"`
	Runtime      runtimeMetrics `json:"runtime"`
	Queues       *queueDepths   `json:"queues,omitempty"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
// Streams a "metrics" event on connect and every metricsInterval after.
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics stream")
	defer h.log.Info().Msg("Admin disconnected from system metrics stream")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		c.SSEvent("metrics", h.collect(ctx))
		c.Writer.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:    time.Now().Unix(),
		Uptime:       formatUptime(time.Since(h.startTime)),
		LiveSessions: h.sessions.Live(),
		Host:         h.hostMetrics(),
		Runtime:      h.runtimeMetrics(),
	}

	pipe := h.rdb.Pipeline()
	answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	activity := pipe.LLen(ctx, config.WorkerKey.PersistActivityQueue)
	scores := pipe.LLen(ctx, config.WorkerKey.PersistScoresQueue)
	order := pipe.LLen(ctx, config.WorkerKey.PersistQuestionOrderQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Debug().Err(err).Msg("Queue depth lookup failed")
		return m
	}
	m.Queues = &queueDepths{
		Answers:       answers.Val(),
		Activity:      activity.Val(),
		Scores:        scores.Val(),
		QuestionOrder: order.Val(),
	}
	return m
}

func (h *SystemHandler) hostMetrics() hostMetrics {
	host := hostMetrics{CPUModel: h.cpuModel, NumCPU: runtime.NumCPU()}

	if idle, total, err := h.proc.cpuTimes(); err == nil {
		h.cpuMu.Lock()
		if total > h.prevTotal {
			host.CPUPercent = (1 - float64(idle-h.prevIdle)/float64(total-h.prevTotal)) * 100
			h.prevIdle, h.prevTotal = idle, total
		}
		h.cpuMu.Unlock()
	}
	if total, avail, err := h.proc.memory(); err == nil && total >= avail {
		host.MemTotalBytes, host.MemUsedBytes = total, total-avail
	}
	if total, free, err := diskUsage("/"); err == nil {
		host.DiskTotalBytes, host.DiskUsedBytes = total, total-free
	}
	host.LoadAvg[0], host.LoadAvg[1], host.LoadAvg[2], _ = h.proc.loadAvg()
	return host
}

func (h *SystemHandler) runtimeMetrics() runtimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rss, _ := h.proc.rss()
	return runtimeMetrics{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
		RSSBytes:   rss,
	}
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}
