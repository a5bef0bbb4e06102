// Package integration contains end-to-end tests that exercise the relay over
// real WebSocket connections against an httptest server.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexuschat/relay/internal/auth"
	"github.com/nexuschat/relay/internal/relay"
	"github.com/nexuschat/relay/internal/server"
)

const testSecret = "integration-secret"

// testRelay bundles a running relay instance and its HTTP test server.
type testRelay struct {
	ts  *httptest.Server
	hub *relay.Hub
}

// startRelay boots a full relay (hub, handlers, HTTP server) for one test.
// mutate may adjust the configuration before it is applied.
func startRelay(t *testing.T, mutate func(cfg *server.Config)) *testRelay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.TokenSecret = testSecret
	cfg.AllowedOrigins = []string{"*"}
	if mutate != nil {
		mutate(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := relay.NewHub(logger, relay.Options{
		MaxRoomIDLength: cfg.MaxRoomIDLength,
		MaxMessageSize:  cfg.MaxMessageSize,
		SendBufferSize:  cfg.SendBufferSize,
		ChatEcho:        cfg.ChatEcho,
	})
	go hub.Run()

	handlers := server.NewHandlers(hub, auth.NewJWT(cfg.TokenSecret), logger)
	ts := httptest.NewServer(server.SetupRoutes(handlers))

	t.Cleanup(func() { ts.Close() })
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	return &testRelay{ts: ts, hub: hub}
}

// signToken issues a token the relay under test will accept.
func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewJWT(testSecret).Sign(userID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// frame is the decoded outbound envelope shape used by assertions.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsClient wraps a dialed connection. The relay's write pump may coalesce
// queued frames into one WebSocket message separated by newlines, so reads
// go through a pending queue.
type wsClient struct {
	conn    *websocket.Conn
	pending []frame
}

// dialRaw opens a WebSocket connection with an arbitrary token and no
// handshake expectations.
func (tr *testRelay) dialRaw(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(tr.ts.URL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	header := http.Header{}
	header.Set("Origin", tr.ts.URL)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dial connects as userID and consumes the connection-established greeting.
func (tr *testRelay) dial(t *testing.T, userID string) *wsClient {
	t.Helper()

	c := &wsClient{conn: tr.dialRaw(t, signToken(t, userID))}
	greeting := c.expect(t, relay.TypeConnectionEstablished)

	var welcome relay.WelcomeData
	if err := json.Unmarshal(greeting.Data, &welcome); err != nil {
		t.Fatalf("unmarshal greeting: %v", err)
	}
	if welcome.UserID != userID {
		t.Fatalf("greeting carried user %q, want %q", welcome.UserID, userID)
	}
	return c
}

// next returns the client's next frame, waiting up to timeout.
func (c *wsClient) next(timeout time.Duration) (frame, error) {
	if len(c.pending) > 0 {
		f := c.pending[0]
		c.pending = c.pending[1:]
		return f, nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return frame{}, err
	}
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return frame{}, err
	}

	for _, part := range bytes.Split(payload, []byte{'\n'}) {
		if len(part) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(part, &f); err != nil {
			return frame{}, fmt.Errorf("unmarshal frame %q: %w", part, err)
		}
		c.pending = append(c.pending, f)
	}
	if len(c.pending) == 0 {
		return frame{}, fmt.Errorf("empty websocket message")
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

// expect reads the next frame and fails the test unless it has wantType.
func (c *wsClient) expect(t *testing.T, wantType string) frame {
	t.Helper()
	f, err := c.next(2 * time.Second)
	if err != nil {
		t.Fatalf("waiting for %q frame: %v", wantType, err)
	}
	if f.Type != wantType {
		t.Fatalf("got frame type %q, want %q", f.Type, wantType)
	}
	return f
}

// waitFor reads frames until one of wantType arrives, skipping others.
func (c *wsClient) waitFor(t *testing.T, wantType string) frame {
	t.Helper()
	for i := 0; i < 100; i++ {
		f, err := c.next(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for %q frame: %v", wantType, err)
		}
		if f.Type == wantType {
			return f
		}
	}
	t.Fatalf("no %q frame within 100 frames", wantType)
	return frame{}
}

// expectNone fails the test if a frame of forbiddenType arrives in a short
// window.
func (c *wsClient) expectNone(t *testing.T, forbiddenType string) {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		f, err := c.next(time.Until(deadline))
		if err != nil {
			return
		}
		if f.Type == forbiddenType {
			t.Fatalf("unexpected %q frame: %s", forbiddenType, f.Data)
		}
	}
}

// send writes one raw text frame.
func (c *wsClient) send(t *testing.T, raw string) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// join sends a join frame and consumes the joined-room confirmation.
func (c *wsClient) join(t *testing.T, roomID string) {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"type":"join","data":{"roomId":%q}}`, roomID))
	c.expect(t, relay.TypeJoinedRoom)
}

// waitForConnections polls the hub registry until it holds want connections.
func waitForConnections(t *testing.T, hub *relay.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Registry().Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("registry has %d connections, want %d", hub.Registry().Len(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
