// Package relay contains the per-session state machine that splices one
// client WebSocket connection onto one TCP destination, and the dial strategy
// that establishes that destination through an ordered fallback-host chain.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/matst80/wsgate/internal/obs"
	"github.com/matst80/wsgate/internal/proto"
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	writeTimeout = 10 * time.Second
	pumpBufSize  = 32 * 1024
)

// errSessionDone signals a clean client-requested close out of the read loop.
var errSessionDone = errors.New("session done")

// Session pairs one client WebSocket connection with at most one TCP
// destination. Inbound frames are processed in arrival order by Run; the dial
// runs on its own goroutine under the session context so a close aborts it.
type Session struct {
	id       string
	ws       *websocket.Conn
	dialer   *Dialer
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex // serializes data writes on ws

	mu      sync.Mutex
	state   State
	target  net.Conn
	pending [][]byte // frames received while Connecting, flushed on establishment

	closeOnce sync.Once
	started   time.Time
	remote    string
}

// SessionOption tweaks a Session.
type SessionOption func(*Session)

// WithRegistry registers the session for diagnostics and shutdown.
func WithRegistry(r *Registry) SessionOption {
	return func(s *Session) { s.registry = r }
}

// NewSession wraps an accepted WebSocket connection. Run must be called to
// start processing.
func NewSession(ws *websocket.Conn, dialer *Dialer, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.NewString(),
		ws:     ws,
		dialer: dialer,
		state:  StateIdle,
		remote: ws.RemoteAddr().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID is the session identifier used in logs and diagnostics.
func (s *Session) ID() string { return s.id }

// Remote is the client's network address.
func (s *Session) Remote() string { return s.remote }

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run processes inbound frames until the session ends. It blocks and always
// leaves the session closed.
func (s *Session) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	obs.ActiveSessions.Inc()
	obs.SessionsTotal.Inc()
	if s.registry != nil {
		s.registry.add(s)
	}
	obs.Info("session.open", obs.Fields{"session": s.id, "remote": s.remote})
	defer s.Close()

	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				obs.Debug("session.peer_closed", obs.Fields{"session": s.id})
			} else if s.State() != StateClosed {
				obs.Warn("session.read", obs.Fields{"session": s.id, "err": err.Error()})
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			if err := s.handleControl(data); err != nil {
				if errors.Is(err, errSessionDone) {
					return
				}
				s.fail(err)
				return
			}
		case websocket.BinaryMessage:
			if err := s.forward(data); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) handleControl(data []byte) error {
	frame, err := proto.ParseClientFrame(data)
	if err != nil {
		return &ProtocolError{Reason: err.Error()}
	}
	switch frame.Kind {
	case proto.KindConnect:
		s.mu.Lock()
		if s.state != StateIdle {
			state := s.state
			s.mu.Unlock()
			return &ProtocolError{Reason: "CONNECT while " + state.String()}
		}
		s.state = StateConnecting
		s.mu.Unlock()
		initial := append([]byte(nil), frame.Payload...)
		obs.Info("session.connect", obs.Fields{"session": s.id, "addr": frame.Addr, "initial_bytes": len(initial)})
		go s.establish(frame.Addr, initial)
		return nil
	case proto.KindData:
		return s.forward(frame.Payload)
	case proto.KindClose:
		obs.Debug("session.close_requested", obs.Fields{"session": s.id})
		s.Close()
		return errSessionDone
	}
	return &ProtocolError{Reason: "unhandled frame kind"}
}

// forward delivers client payload to the destination socket. While the dial
// is still in flight the payload is buffered and flushed after CONNECTED.
func (s *Session) forward(b []byte) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.pending = append(s.pending, append([]byte(nil), b...))
		s.mu.Unlock()
		return nil
	case StateStreaming:
		target := s.target
		s.mu.Unlock()
		if _, err := target.Write(b); err != nil {
			obs.Debug("session.target_write", obs.Fields{"session": s.id, "err": err.Error()})
			s.Close()
			return nil
		}
		obs.BytesPumpedTotal.WithLabelValues("upstream").Add(float64(len(b)))
		return nil
	case StateClosed:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return &ProtocolError{Reason: "data frame before CONNECT"}
	}
}

// establish runs the dial strategy and moves the session to Streaming.
func (s *Session) establish(addr string, initial []byte) {
	conn, err := s.dialer.Connect(s.ctx, addr, initial)
	if err != nil {
		if s.ctx.Err() == nil {
			s.fail(err)
		}
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while the dial was in flight.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.target = conn
	s.mu.Unlock()

	if err := s.writeText(proto.Connected()); err != nil {
		s.Close()
		return
	}

	// Drain the buffer before Streaming becomes visible to forward. Frames
	// arriving during the drain keep queueing behind it, so the destination
	// sees every frame in arrival order.
	flushed := 0
	for {
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.state = StateStreaming
			s.mu.Unlock()
			break
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, b := range batch {
			if _, err := conn.Write(b); err != nil {
				s.Close()
				return
			}
			obs.BytesPumpedTotal.WithLabelValues("upstream").Add(float64(len(b)))
			flushed++
		}
	}
	obs.Info("session.established", obs.Fields{"session": s.id, "addr": addr, "buffered": flushed})
	go s.pumpTarget(conn)
}

// pumpTarget copies destination bytes back to the client until EOF or error.
// EOF sends the CLOSE notice before teardown.
func (s *Session) pumpTarget(conn net.Conn) {
	buf := make([]byte, pumpBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := s.writeBinary(buf[:n]); werr != nil {
				s.Close()
				return
			}
			obs.BytesPumpedTotal.WithLabelValues("downstream").Add(float64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = s.writeText(proto.CloseFrame())
			}
			s.Close()
			return
		}
	}
}

// fail reports an unrecoverable error to the client best-effort and tears the
// session down. A failed notice send is swallowed.
func (s *Session) fail(err error) {
	obs.ErrorsTotal.WithLabelValues(errorLabel(err)).Inc()
	obs.Warn("session.error", obs.Fields{"session": s.id, "err": err.Error()})
	_ = s.writeText(proto.ErrorNotice(err.Error()))
	s.Close()
}

func (s *Session) writeText(b []byte) error {
	return s.write(websocket.TextMessage, b)
}

func (s *Session) writeBinary(b []byte) error {
	return s.write(websocket.BinaryMessage, b)
}

func (s *Session) write(msgType int, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.ws.WriteMessage(msgType, b)
}

// Close tears the session down. Safe to call any number of times from any
// goroutine; both handles are released exactly once and failures during
// release are suppressed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		target := s.target
		s.target = nil
		s.pending = nil
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		if target != nil {
			_ = target.Close()
		}
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.ws.Close()
		if s.registry != nil {
			s.registry.remove(s.id)
		}
		obs.ActiveSessions.Dec()
		if !s.started.IsZero() {
			obs.SessionDurationSeconds.Observe(time.Since(s.started).Seconds())
		}
		obs.Info("session.closed", obs.Fields{"session": s.id})
	})
}

func errorLabel(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return "protocol"
	}
	var de *DialError
	if errors.As(err, &de) {
		return "dial"
	}
	return "internal"
}
