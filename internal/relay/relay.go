// Package relay implements the WebSocket relay transport: the
// hello/hello-ack handshake, frame-wrapped application messages,
// peer-joined/peer-left/session-killed events, heartbeats, and
// reconnect-with-backoff. A nhooyr.io/websocket connection is wrapped with
// a background read loop feeding a buffered channel; connection loss
// reconnects with exponential backoff.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/jaxs-ribs/codewalk/internal/bridge"
	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Relay-layer message types. Distinct from the protocol package's frozen
// v1 application schema — this is the transport envelope, which the
// Protocol Bridge never sees beyond consuming and producing frame
// payloads.
const (
	typeHello         = "hello"
	typeHelloAck      = "hello-ack"
	typeFrame         = "frame"
	typePeerJoined    = "peer-joined"
	typePeerLeft      = "peer-left"
	typeSessionKilled = "session-killed"
	typeHeartbeat     = "hb"
)

// BackoffBase and BackoffCap bound the reconnect backoff: exponential,
// base 1s, cap 30s.
const (
	BackoffBase = time.Second
	BackoffCap  = 30 * time.Second
)

// MinHeartbeatInterval is the floor RELAY_HEARTBEAT_SECS must respect.
const MinHeartbeatInterval = 5 * time.Second

// HandshakeTimeout bounds how long Connect waits for hello-ack.
const HandshakeTimeout = 10 * time.Second

// ErrSessionKilled is returned from Run when the peer sends session-killed;
// callers should perform a clean shutdown rather than reconnect.
var ErrSessionKilled = errors.New("relay: session killed by peer")

// Config configures a Relay connection.
type Config struct {
	URL               string
	SessionID         string
	AuthToken         string
	Role              string
	HeartbeatInterval time.Duration
}

type envelope struct {
	Type  string `json:"type"`
	S     string `json:"s,omitempty"`
	T     string `json:"t,omitempty"`
	R     string `json:"r,omitempty"`
	Frame string `json:"frame,omitempty"`
}

// Relay is a ports.OutboundPort backed by a reconnecting WebSocket
// connection to the relay server.
type Relay struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	ready    bool
	closed   bool

	inbound chan []byte
}

// New builds a Relay. Run must be called (typically on its own goroutine)
// before Send will succeed.
func New(cfg Config) *Relay {
	if cfg.HeartbeatInterval < MinHeartbeatInterval {
		cfg.HeartbeatInterval = MinHeartbeatInterval
	}
	return &Relay{cfg: cfg, inbound: make(chan []byte, 64)}
}

// Inbound exposes decoded application-layer frame payloads (the contents
// of {type:"frame", frame:"..."}) for the Protocol Bridge to consume.
func (r *Relay) Inbound() <-chan []byte { return r.inbound }

// IsReady reports whether a connection is currently established.
func (r *Relay) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Send implements ports.OutboundPort: it encodes msg via the Protocol
// Bridge's wire mapping, wraps it in the relay's frame envelope, and
// writes it as a single text message.
func (r *Relay) Send(ctx context.Context, msg event.OutboundMessage) error {
	payload, err := bridge.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	return r.writeEnvelope(ctx, envelope{Type: typeFrame, Frame: string(payload)})
}

// SendRaw writes an already wire-encoded application frame (typically a
// bridge.HandleInbound Reply) without re-encoding it through the Protocol
// Bridge.
func (r *Relay) SendRaw(ctx context.Context, payload []byte) error {
	return r.writeEnvelope(ctx, envelope{Type: typeFrame, Frame: string(payload)})
}

func (r *Relay) writeEnvelope(ctx context.Context, env envelope) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("relay: not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encoding envelope: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: writing frame: %w", err)
	}
	return nil
}

// Close permanently shuts the relay down; Run returns after the current
// connection attempt settles.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

// Run dials, handshakes, and serves the relay connection until ctx is
// cancelled, the peer sends session-killed (ErrSessionKilled is returned),
// or Close is called. Transport-level failures reconnect with exponential
// backoff.
func (r *Relay) Run(ctx context.Context) error {
	backoff := BackoffBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil
		}

		err := r.runOnce(ctx)
		if errors.Is(err, ErrSessionKilled) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wslog.Warn(wslog.CatRelay, "relay connection lost, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > BackoffCap {
		next = BackoffCap
	}
	return next
}

func (r *Relay) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, r.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("relay: dialing %s: %w", r.cfg.URL, err)
	}
	defer conn.Close(websocket.StatusInternalError, "relay closing")

	if err := r.handshake(ctx, conn); err != nil {
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ready = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.ready = false
		r.conn = nil
		r.mu.Unlock()
	}()

	errCh := make(chan error, 2)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.heartbeatLoop(connCtx, conn, errCh)
	go r.readLoop(connCtx, conn, errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (r *Relay) handshake(ctx context.Context, conn *websocket.Conn) error {
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	hello := envelope{Type: typeHello, S: r.cfg.SessionID, T: r.cfg.AuthToken, R: r.cfg.Role}
	data, err := json.Marshal(hello)
	if err != nil {
		return fmt.Errorf("relay: encoding hello: %w", err)
	}
	if err := conn.Write(hctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: sending hello: %w", err)
	}

	_, reply, err := conn.Read(hctx)
	if err != nil {
		return fmt.Errorf("relay: awaiting hello-ack: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(reply, &env); err != nil {
		return fmt.Errorf("relay: decoding hello-ack: %w", err)
	}
	if env.Type != typeHelloAck {
		return fmt.Errorf("relay: expected hello-ack, got %q", env.Type)
	}
	return nil
}

func (r *Relay) heartbeatLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, _ := json.Marshal(envelope{Type: typeHeartbeat})
			r.writeMu.Lock()
			err := conn.Write(ctx, websocket.MessageText, data)
			r.writeMu.Unlock()
			if err != nil {
				select {
				case errCh <- fmt.Errorf("relay: sending heartbeat: %w", err):
				case <-ctx.Done():
				}
				return
			}
		}
	}
}

func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errCh <- fmt.Errorf("relay: reading: %w", err):
			case <-ctx.Done():
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			wslog.Warn(wslog.CatRelay, "relay: malformed envelope", "err", err)
			continue
		}

		switch env.Type {
		case typeFrame:
			select {
			case r.inbound <- []byte(env.Frame):
			case <-ctx.Done():
				return
			}
		case typePeerJoined:
			wslog.Info(wslog.CatRelay, "peer joined")
		case typePeerLeft:
			wslog.Info(wslog.CatRelay, "peer left")
		case typeSessionKilled:
			select {
			case errCh <- ErrSessionKilled:
			case <-ctx.Done():
			}
			return
		case typeHeartbeat:
			// server heartbeat, nothing to do beyond keeping the read loop alive
		default:
			wslog.Warn(wslog.CatRelay, "relay: unknown envelope type", "type", env.Type)
		}
	}
}
