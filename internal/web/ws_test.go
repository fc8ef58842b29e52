package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

func dialChat(t *testing.T, f *fixture, key string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("X-API-Key", key)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readUntilClose collects frames until the server closes the connection.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]stream.Frame, *websocket.CloseError) {
	t.Helper()
	var frames []stream.Frame
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				t.Fatalf("ReadMessage() error = %v, want close", err)
			}
			return frames, ce
		}
		var fr stream.Frame
		if err := json.Unmarshal(data, &fr); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		frames = append(frames, fr)
	}
}

func TestChatWebSocketStreamsTurn(t *testing.T) {
	f := newFixture(t)
	conn := dialChat(t, f, "key-alice")

	if err := conn.WriteJSON(chatBody("c1", "claude-haiku", "hi")); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	frames, ce := readUntilClose(t, conn)
	if ce.Code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want normal closure", ce.Code)
	}

	var text strings.Builder
	for _, fr := range frames {
		if fr.Kind == models.StreamTextDelta {
			text.WriteString(fr.Content.(string))
		}
	}
	if text.String() != "Hello there" {
		t.Errorf("streamed text = %q", text.String())
	}
	if len(frames) == 0 {
		t.Fatal("no frames received")
	}
	last := frames[len(frames)-1]
	if last.Stream != stream.TurnStream || last.Kind != models.StreamFinish {
		t.Errorf("last frame = %+v, want turn finish", last)
	}
}

func TestChatWebSocketPreconditionCloseCodes(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
	}{
		{
			name:    "unknown model",
			message: `{"id":"c1","modelId":"nope","messages":[{"id":"m1","role":"user","content":"hi"}]}`,
			want:    4000 + http.StatusNotFound,
		},
		{
			name:    "malformed request",
			message: `{"id":`,
			want:    4000 + http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conn := dialChat(t, f, "key-alice")
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			frames, ce := readUntilClose(t, conn)
			if len(frames) != 0 {
				t.Errorf("frames = %+v, want none before a precondition close", frames)
			}
			if ce.Code != tt.want {
				t.Errorf("close code = %d, want %d", ce.Code, tt.want)
			}
		})
	}
}

func TestChatWebSocketRequiresAllowedOrigin(t *testing.T) {
	f := newFixture(t)
	f.handler.config.AllowedOrigins = []string{"https://app.example.com"}
	f.handler.upgrader = f.handler.newUpgrader()

	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws", nil)
	req.Header.Set("X-API-Key", "key-alice")
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for a foreign origin", rec.Code)
	}
}
