package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
)

// sessionError maps exam-taking errors onto an HTTP status and error code.
// Unknown errors are internal.
func sessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrExamNotAvailable):
		return http.StatusBadRequest, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrInvalidEntryToken):
		return http.StatusBadRequest, response.ErrInvalidEntryToken
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrShuttingDown), errors.Is(err, service.ErrRunnerStopped):
		return http.StatusServiceUnavailable, response.ErrServiceShutdown
	case errors.Is(err, session.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, session.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, session.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, session.ErrSubmitInFlight):
		return http.StatusConflict, response.ErrSubmitInFlight
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// submitError is sessionError for the submit path, where any persistence
// failure is reported as retryable.
func submitError(err error) (int, response.ErrCode) {
	status, code := sessionError(err)
	if code == response.ErrInternal {
		return http.StatusServiceUnavailable, response.ErrSubmissionFailed
	}
	return status, code
}
