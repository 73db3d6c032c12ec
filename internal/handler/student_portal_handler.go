package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints (exam taking).
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Starts the attempt, or resumes it after a reload (idempotent).
func (h *StudentPortalHandler) StartSession(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	view, err := h.sessionService.Start(c.Request.Context(), examID, studentID, req.EntryToken)
	if err != nil {
		status, code := sessionError(err)
		if code == response.ErrInternal {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Str("student_id", studentID).Msg("Start session failed")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the current state of a live attempt.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	view, err := h.sessionService.View(c.Request.Context(), examID, studentID)
	if err != nil {
		status, code := sessionError(err)
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// SubmitSession godoc
// POST /api/v1/student/exams/:exam_id/submit
// Manual confirmed submission. Responds once the record is stored; a failure
// leaves the attempt intact for a retry.
func (h *StudentPortalHandler) SubmitSession(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrConfirmRequired, fields)
		return
	}

	rec, err := h.sessionService.Submit(c.Request.Context(), examID, studentID)
	if err != nil {
		status, code := submitError(err)
		if code == response.ErrSubmissionFailed {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Str("student_id", studentID).Msg("Submit failed")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": rec})
}

// studentAndExam reads the caller and the exam path parameter, writing the
// error response itself when either is missing.
func studentAndExam(c *gin.Context) (string, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return "", uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", uuid.Nil, false
	}
	return claims.UserID(), examID, true
}
