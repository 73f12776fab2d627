package comfy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rndnanthu/Comfyui-Livepreview/engine"
	"github.com/rndnanthu/Comfyui-Livepreview/types"
)

// DefaultPingInterval keeps idle connections alive through proxies.
const DefaultPingInterval = 30 * time.Second

// DefaultHandshakeTimeout bounds the WebSocket dial.
const DefaultHandshakeTimeout = 10 * time.Second

// NewClientID generates a random client identity for one monitor run.
// The server routes push messages for a prompt to the socket whose
// clientId queued it.
func NewClientID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("comfy: generate client id: %v", err))
	}
	return hex.EncodeToString(b)
}

// MessageHandler consumes one raw push-channel message.
type MessageHandler func(ctx context.Context, msg types.RawMessage) error

// SocketConfig configures the push-channel transport.
type SocketConfig struct {
	// Host is the server address, host:port (required).
	Host string
	// ClientID is the identity announced on connect (required).
	ClientID string
	// PingInterval between keepalive pings (default 30s).
	PingInterval time.Duration
	// HandshakeTimeout bounds the dial (default 10s).
	HandshakeTimeout time.Duration
}

// Socket is the persistent push channel carrying interleaved binary
// preview fragments and JSON control events.
type Socket struct {
	conn         *websocket.Conn
	pingInterval time.Duration

	closeOnce sync.Once
	closeErr  error
}

// DialSocket connects to the server's push endpoint.
func DialSocket(ctx context.Context, cfg SocketConfig) (*Socket, error) {
	if cfg.Host == "" {
		return nil, errors.New("comfy socket requires a host")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("comfy socket requires a client id")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     cfg.Host,
		Path:     "/ws",
		RawQuery: url.Values{"clientId": {cfg.ClientID}}.Encode(),
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("comfy: dial %s: %w (status %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("comfy: dial %s: %w", u.String(), err)
	}

	return &Socket{conn: conn, pingInterval: cfg.PingInterval}, nil
}

// Run reads messages until the connection closes or ctx is canceled, handing
// each one to handler on this goroutine so arrival order is preserved.
// Returns nil on a clean close, the handler's error if it rejects a message,
// or the transport error otherwise.
func (s *Socket) Run(ctx context.Context, handler MessageHandler) error {
	// Reader unblocks via Close when ctx is canceled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-stop:
				return
			}
		}
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("comfy: read message: %w", err)
		}

		var msg types.RawMessage
		switch msgType {
		case websocket.BinaryMessage:
			msg = types.RawMessage{Kind: types.MessageBinary, Data: data}
		case websocket.TextMessage:
			msg = types.RawMessage{Kind: types.MessageText, Data: data}
		default:
			continue
		}

		if err := handler(ctx, msg); err != nil {
			return fmt.Errorf("comfy: message handler: %w", err)
		}
	}
}

// Close shuts the connection down. Safe to call concurrently with Run and
// more than once; the reader observes the close and returns.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Verify Client satisfies the dispatcher's result-fetch contract.
var _ engine.ResultFetcher = (*Client)(nil)
