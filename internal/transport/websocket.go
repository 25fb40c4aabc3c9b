package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxreader/reader-stream/internal/observability"
	"github.com/voxreader/reader-stream/internal/protocol"
	"github.com/voxreader/reader-stream/internal/resilience"
	"github.com/voxreader/reader-stream/internal/stream"
)

const breakerName = "reader_ws"

// FactoryConfig describes how to reach the Reader streaming endpoint for one
// document.
type FactoryConfig struct {
	// BaseURL is the Reader API base, http(s) scheme. The websocket scheme is
	// derived from it.
	BaseURL    string
	DocumentID string
	VoiceID    string

	BearerToken   string
	DeviceID      string
	AppCheckToken string // optional attestation token

	ConnectTimeout time.Duration

	// Circuit breaker guards the dialer so a dead endpoint fails fast instead
	// of burning the reconnect ceiling on connect timeouts.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Factory dials websocket connections to the Reader streaming endpoint. It
// implements stream.ConnectionFactory for a single document.
type Factory struct {
	cfg     FactoryConfig
	baseURL *url.URL
	dialer  *websocket.Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewFactory validates the endpoint configuration and returns a dialer-backed
// connection factory.
func NewFactory(cfg FactoryConfig, logger zerolog.Logger) (*Factory, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if cfg.DocumentID == "" {
		return nil, errors.New("document id is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}

	return &Factory{
		cfg:     cfg,
		baseURL: u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		breaker: resilience.NewCircuitBreaker(breakerName, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout),
		logger:  logger,
	}, nil
}

// Dial opens a connection resuming at the given absolute character position
// and sends the initiation message before handing the connection over.
func (f *Factory) Dial(ctx context.Context, position int, streamID string) (stream.Conn, error) {
	var ws *websocket.Conn
	err := f.breaker.Call(func() error {
		c, dialErr := f.dial(ctx, position, streamID)
		if dialErr != nil {
			return dialErr
		}
		ws = c
		return nil
	})
	observability.UpdateCircuitBreakerState(breakerName, int(f.breaker.GetState()))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(breakerName)
		}
		return nil, err
	}
	return newWSConn(ws), nil
}

func (f *Factory) dial(ctx context.Context, position int, streamID string) (*websocket.Conn, error) {
	u := *f.baseURL
	u.Path = "/v1/reader/reads/stream/" + f.cfg.DocumentID
	q := url.Values{}
	if f.cfg.VoiceID != "" {
		q.Set("voice_id", f.cfg.VoiceID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if f.cfg.BearerToken != "" {
		header.Set("Authorization", "Bearer "+f.cfg.BearerToken)
	}
	header.Set("Origin", "https://elevenlabs.io")
	if f.cfg.DeviceID != "" {
		header.Set("device-id", f.cfg.DeviceID)
	}
	if f.cfg.AppCheckToken != "" {
		header.Set("xi-app-check-token", f.cfg.AppCheckToken)
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()

	ws, resp, err := f.dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	init := protocol.StreamRequest{StreamID: streamID, Position: position}
	if err := ws.WriteJSON(init); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send stream request: %w", err)
	}

	f.logger.Debug().
		Str("stream_id", streamID).
		Int("position", position).
		Msg("Websocket connection established")
	return ws, nil
}

// BreakerState exposes the dialer circuit state for diagnostics.
func (f *Factory) BreakerState() resilience.CircuitState {
	return f.breaker.GetState()
}

// wsMessage is one frame, or the read error that ended the pump.
type wsMessage struct {
	data   []byte
	binary bool
	err    error
}

// wsConn adapts a gorilla websocket connection to stream.Conn. A pump
// goroutine owns all reads and hands frames over a channel; the idle timeout
// is a plain select timeout, so expiry never disturbs the underlying
// connection and the caller may keep waiting on it.
type wsConn struct {
	ws        *websocket.Conn
	msgs      chan wsMessage
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		msgs: make(chan wsMessage, 8),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.msgs)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.msgs <- wsMessage{err: err}:
			case <-c.done:
			}
			return
		}
		select {
		case c.msgs <- wsMessage{data: data, binary: msgType == websocket.BinaryMessage}:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) ReadMessage(timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m, ok := <-c.msgs:
		if !ok {
			return nil, false, net.ErrClosed
		}
		if m.err != nil {
			return nil, false, m.err
		}
		return m.data, m.binary, nil
	case <-timer.C:
		return nil, false, stream.ErrIdleTimeout
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Best-effort close handshake before tearing down the TCP connection.
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
