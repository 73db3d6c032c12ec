package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/validator"
)

const (
	writeWait = 10 * time.Second
	// pongWait bounds how long a silent client is kept; clients ping well
	// inside it.
	pongWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// NewError builds the error event for code.
func NewError(code response.ErrCode, fields map[string]string) ErrorResponse {
	return ErrorResponse{
		Event:     EventError,
		Code:      code,
		Error:     response.GetMessage(code),
		Retryable: response.IsRetryable(code),
		Fields:    fields,
	}
}

// ReadMessage reads one raw client message. It sets a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	_, data, err := conn.ReadMessage()
	return data, err
}

// Decode parses the action of a raw message.
func Decode(data []byte) (Action, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if err := validator.Struct(&env); err != nil {
		return "", err
	}
	return env.Action, nil
}

// Parse decodes a raw message into dst and validates it. It returns a
// translated field map on failure.
func Parse(data []byte, dst interface{}) map[string]string {
	if err := json.Unmarshal(data, dst); err != nil {
		return validator.TranslateErrors(err)
	}
	if err := validator.Struct(dst); err != nil {
		return validator.TranslateErrors(err)
	}
	return nil
}
