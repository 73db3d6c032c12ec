package logger

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServiceName tags every log line so session logs can be told apart from the
// exam management backend in a shared sink.
const ServiceName = "exstem-session"

// Setup builds the process logger.
//   - level: trace, debug, info, warn, error, fatal or panic; unknown values fall back to info
//   - format: "pretty" for console output, anything else writes JSON lines
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, level, format)
}

// New is Setup with an explicit destination.
func New(out io.Writer, level, format string) zerolog.Logger {
	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", ServiceName).
		Caller().
		Logger()
}

// ForSession scopes log to a single student's attempt at an exam.
func ForSession(log zerolog.Logger, examID uuid.UUID, studentID string) zerolog.Logger {
	return log.With().
		Str("exam_id", examID.String()).
		Str("student_id", studentID).
		Logger()
}
