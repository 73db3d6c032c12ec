package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

const (
	maxMessageSize = 8 << 10
	outboxSize     = 16
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session over a WebSocket.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Relays client events to the session runner and pushes its signals back.
// The session must have been started over REST first.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID := claims.UserID()

	runner, err := h.sessionService.Runner(examID, studentID)
	if err != nil {
		status, code := sessionError(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	wsLog := logger.ForSession(h.log, examID, studentID)
	wsLog.Info().Msg("Student connected")

	// Subscribe before reading the first view so no signal is missed between them.
	signals, unsubscribe := runner.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbox := make(chan interface{}, outboxSize)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, signals, outbox, writerDone, wsLog)

	send := func(msg interface{}) bool {
		select {
		case outbox <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	// A reconnect after a failed submit retries it; the outcome is pushed
	// as a signal.
	runner.RetryFailedSubmit()
	if !send(stateOrError(runner.View(ctx))) {
		return
	}

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		if reply := h.dispatch(ctx, runner, data, wsLog); reply != nil {
			if !send(reply) {
				break
			}
		}
	}

	close(outbox)
	<-writerDone
}

// writeLoop is the connection's only writer. It forwards replies and session
// signals, and reports a stored submission once per connection.
func (h *WSHandler) writeLoop(conn *websocket.Conn, signals <-chan session.Signal, outbox <-chan interface{}, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	// Unblocks the reader when a write fails.
	defer conn.Close()

	submitted := false
	write := func(msg interface{}) bool {
		if sub, ok := msg.(ws.SubmittedResponse); ok {
			if submitted {
				return true
			}
			submitted = sub.Submission != nil
		}
		if err := ws.WriteTyped(conn, msg); err != nil {
			log.Debug().Err(err).Msg("Write failed")
			return false
		}
		return true
	}

	for {
		select {
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			if !write(msg) {
				return
			}
		case sig, ok := <-signals:
			if !ok {
				// The runner exited; keep answering until the client leaves.
				signals = nil
				continue
			}
			if !write(signalMessage(sig)) {
				return
			}
		}
	}
}

func signalMessage(sig session.Signal) interface{} {
	if sig.Kind == session.SignalSubmitted {
		return ws.SubmittedResponse{Event: ws.EventSubmitted, Submission: sig.Record}
	}
	return ws.FromSignal(sig)
}

// dispatch applies one client message. Commands answer with the new state;
// observations answer nothing, their effects arrive as signals.
func (h *WSHandler) dispatch(ctx context.Context, r *service.Runner, data []byte, log zerolog.Logger) interface{} {
	action, err := ws.Decode(data)
	if err != nil {
		return ws.NewError(response.ErrInvalidPayload, validator.TranslateErrors(err))
	}

	switch action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return stateOrError(r.SetAnswer(ctx, req.QuestionID, *req.Answer))

	case ws.ActionClear, ws.ActionFlag, ws.ActionUnflag:
		var req ws.QuestionRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		switch action {
		case ws.ActionClear:
			return stateOrError(r.ClearAnswer(ctx, req.QuestionID))
		case ws.ActionFlag:
			return stateOrError(r.Flag(ctx, req.QuestionID))
		default:
			return stateOrError(r.Unflag(ctx, req.QuestionID))
		}

	case ws.ActionGoTo:
		var req ws.GoToRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return stateOrError(r.GoTo(ctx, *req.Index))

	case ws.ActionNext:
		return stateOrError(r.Next(ctx))

	case ws.ActionPrevious:
		return stateOrError(r.Previous(ctx))

	case ws.ActionState:
		return stateOrError(r.View(ctx))

	case ws.ActionKeyDown:
		var req ws.KeyDownRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return errorOrNil(r.KeyDown(ctx, req.KeyEvent()))

	case ws.ActionClipboard:
		var req ws.ClipboardRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return errorOrNil(r.Clipboard(ctx, req.Kind))

	case ws.ActionVisibility:
		var req ws.VisibilityRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return errorOrNil(r.VisibilityChange(ctx, *req.Hidden))

	case ws.ActionFullscreen:
		var req ws.FullscreenRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrValidation, fields)
		}
		return errorOrNil(r.FullscreenChange(ctx, *req.Fullscreen))

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if fields := ws.Parse(data, &req); fields != nil {
			return ws.NewError(response.ErrConfirmRequired, fields)
		}
		rec, err := r.Submit(ctx, model.SubmitTriggerManual)
		if err != nil {
			_, code := submitError(err)
			if code == response.ErrSubmissionFailed {
				// The submit_failed signal has already told the client.
				log.Warn().Err(err).Msg("Submit over WebSocket failed")
				return nil
			}
			return ws.NewError(code, nil)
		}
		return ws.SubmittedResponse{Event: ws.EventSubmitted, Submission: rec}

	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong}
	}

	return ws.NewError(response.ErrUnknownAction, map[string]string{"action": string(action)})
}

func stateOrError(v service.View, err error) interface{} {
	if err != nil {
		return errorOrNil(err)
	}
	return ws.StateResponse{Event: ws.EventState, State: v}
}

func errorOrNil(err error) interface{} {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	_, code := sessionError(err)
	return ws.NewError(code, nil)
}
