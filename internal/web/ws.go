package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

var errBinaryMessage = errors.New("web: expected a text message")

const (
	wsRequestWait  = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second
	wsWriteWait    = 10 * time.Second
)

func (h *Handler) newUpgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}
	if len(h.config.AllowedOrigins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(h.config.AllowedOrigins, origin)
		}
	}
	return u
}

// handleChatWS runs one turn over a websocket. The client sends the chat
// request as its first text message; every frame then arrives as one text
// message and the server closes normally after the turn's finish frame.
// Precondition failures close with code 4000 plus the HTTP status.
func (h *Handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if !h.allowTurn(w, r) {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.config.Logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.config.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsRequestWait)) //nolint:errcheck
	var req chatRequest
	messageType, data, err := conn.ReadMessage()
	if err == nil && messageType != websocket.TextMessage {
		err = errBinaryMessage
	}
	if err == nil {
		err = json.Unmarshal(data, &req)
	}
	if err != nil {
		closeWS(conn, 4000+http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	turn, err := h.config.Orchestrator.Prepare(ctx, agent.TurnRequest{
		ChatID:   req.ID,
		ModelID:  req.ModelID,
		Messages: models.ToCoreMessages(req.Messages),
	})
	if err != nil {
		status, msg := statusFor(err)
		h.logFailure(r, status, err)
		closeWS(conn, 4000+status, msg)
		return
	}

	// The reader only services control frames; a read error means the
	// client went away and aborts the turn.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	go keepAlive(ctx, conn)

	if err := turn.Run(ctx, stream.New(wsFrameWriter{conn: conn}, h.streamConfig())); err != nil {
		h.config.Logger.DebugContext(r.Context(), "turn ended with error", "chat_id", turn.Chat().ID, "state", turn.State())
	}
	closeWS(conn, websocket.CloseNormalClosure, "")
}

// wsFrameWriter sends each encoded frame as one text message. The stream's
// encoder issues exactly one Write per frame, so message boundaries and
// frame boundaries coincide.
type wsFrameWriter struct {
	conn *websocket.Conn
}

func (fw wsFrameWriter) Write(p []byte) (int, error) {
	_ = fw.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	if err := fw.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(p, "\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

// keepAlive pings until ctx ends. WriteControl may run alongside the frame
// writer.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)) //nolint:errcheck
}
