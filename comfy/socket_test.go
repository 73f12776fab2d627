package comfy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rndnanthu/Comfyui-Livepreview/iox"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// wsServer upgrades incoming connections and runs serve against each one.
func wsServer(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialTest(t *testing.T, srv *httptest.Server) *Socket {
	t.Helper()
	s, err := DialSocket(context.Background(), SocketConfig{
		Host:     strings.TrimPrefix(srv.URL, "http://"),
		ClientID: "client-abc",
	})
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	t.Cleanup(iox.CloseFunc(s))
	return s
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

func TestSocket_DeliversMessagesInOrder(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.URL.Query().Get("clientId"); got != "client-abc" {
			t.Errorf("clientId = %q, want client-abc", got)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"execution_start"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x01})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"progress"}`))
		closeNormally(conn)
	})

	s := dialTest(t, srv)

	var got []types.RawMessage
	err := s.Run(context.Background(), func(_ context.Context, msg types.RawMessage) error {
		got = append(got, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantKinds := []types.MessageKind{types.MessageText, types.MessageBinary, types.MessageText}
	if len(got) != len(wantKinds) {
		t.Fatalf("received %d messages, want %d", len(got), len(wantKinds))
	}
	for i, msg := range got {
		if msg.Kind != wantKinds[i] {
			t.Errorf("message %d kind = %v, want %v", i, msg.Kind, wantKinds[i])
		}
	}
}

func TestSocket_HandlerErrorStopsRun(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`first`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`second`))
		// Hold the connection open; the client side stops on handler error.
		time.Sleep(200 * time.Millisecond)
	})

	s := dialTest(t, srv)

	handlerErr := errors.New("handler rejected")
	calls := 0
	err := s.Run(context.Background(), func(_ context.Context, _ types.RawMessage) error {
		calls++
		return handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("Run error = %v, want handler error", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestSocket_ContextCancelUnblocksRun(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Never send anything; just hold the connection.
		_, _, _ = conn.ReadMessage()
	})

	s := dialTest(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, types.RawMessage) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestSocket_CloseIsIdempotent(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	s := dialTest(t, srv)
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
