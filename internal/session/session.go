// Package session holds the per-connection Session type, the shared
// subscription registry, and the fan-out router that delivers PUBLISH
// packets to subscribers.
package session

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"mqttd/internal/packet"
)

// outboxCapacity bounds the number of frames queued for a slow
// subscriber before the router starts dropping instead of blocking the
// publisher's handler goroutine (REDESIGN FLAG 1 in SPEC_FULL.md §5).
const outboxCapacity = 64

// Session is one accepted connection: its raw transport, a dedicated
// writer goroutine draining a bounded outbox, and the liveness state
// the keep-alive watchdog consults.
type Session struct {
	ID       uuid.UUID
	ClientID string
	RemoteAddr string

	conn   net.Conn
	logger *slog.Logger

	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	mu           sync.Mutex
	lastPingTime time.Time
	keepAlive    time.Duration

	DroppedWrites func() // optional hook incremented on a full outbox, set by caller for metrics
}

// New wraps an accepted connection in a Session with a running writer
// goroutine. Callers must call Close when the session ends.
func New(conn net.Conn, logger *slog.Logger, keepAlive time.Duration) *Session {
	s := &Session{
		ID:           uuid.New(),
		RemoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		logger:       logger,
		outbox:       make(chan []byte, outboxCapacity),
		done:         make(chan struct{}),
		lastPingTime: time.Now(),
		keepAlive:    keepAlive,
	}
	go s.writeLoop()
	return s
}

// writeLoop is the outbox's sole consumer: it drains the outbox
// sequentially onto the socket, which is what gives "messages from one
// publisher appear in publish order" without a write mutex shared
// across goroutines (spec.md §4.6).
func (s *Session) writeLoop() {
	for {
		select {
		case frame, ok := <-s.outbox:
			if !ok {
				return
			}
			if _, err := s.conn.Write(frame); err != nil {
				s.logger.Debug("session write failed", "session", s.ID, "client", s.ClientID, "error", err)
			}
		case <-s.done:
			return
		}
	}
}

// Enqueue schedules frame for delivery on this session's socket. It
// never blocks: a full outbox means a slow subscriber, so the frame is
// dropped and counted rather than stalling the caller (typically the
// router, running on the publisher's handler goroutine).
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case s.outbox <- frame:
		return true
	default:
		if s.DroppedWrites != nil {
			s.DroppedWrites()
		}
		return false
	}
}

// WriteDirect bypasses the outbox for replies that must go out strictly
// before any fan-out write queued after them (the PUBACK-before-fan-out
// ordering invariant in spec.md §3 invariant 4 and §5(b)). Besides the
// connection's handler goroutine, the keep-alive watchdog and the
// broker's shutdown path also call it, so it relies on the connection's
// Write being safe for concurrent use (net.Conn is; wsConn serializes
// writes with its own lock).
func (s *Session) WriteDirect(frame []byte) error {
	_, err := s.conn.Write(frame)
	return err
}

// WriteDirectPacket is a convenience wrapper combining Packet.Encode with
// WriteDirect, used for handshake and ack replies.
func (s *Session) WriteDirectPacket(p packet.Packet) error {
	frame, err := p.Encode()
	if err != nil {
		return err
	}
	return s.WriteDirect(frame)
}

// Touch records a liveness signal (PINGREQ, or any processed frame per
// the watchdog's discretion).
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastPingTime = time.Now()
	s.mu.Unlock()
}

// Idle reports how long it has been since the last Touch.
func (s *Session) Idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastPingTime)
}

// KeepAlive returns the negotiated keep-alive watchdog interval.
func (s *Session) KeepAlive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlive
}

// Close stops the writer goroutine and closes the underlying socket.
// Safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}
