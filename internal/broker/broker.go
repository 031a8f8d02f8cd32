// Package broker implements the connection lifecycle state machine
// described in SPEC_FULL.md §4.4: one handler goroutine per accepted
// connection, moving AwaitingConnect -> Connected -> Closed, wired to
// the session registry, router, metrics, and audit store. It absorbs
// and replaces the hand-rolled v3.1.1-oriented accept loop the teacher
// kept in its mqttbroker package.
package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"mqttd/internal/audit"
	"mqttd/internal/metrics"
	"mqttd/internal/packet"
	"mqttd/internal/session"
)

// Broker owns the subscription registry and routes accepted connections
// through the CONNECT handshake and packet dispatch loop.
type Broker struct {
	Registry *session.Registry
	Router   *session.Router
	Metrics  *metrics.Metrics
	Audit    *audit.Store
	Logger   *slog.Logger

	// KeepAliveFallback is the watchdog interval used when a client
	// negotiates keep_alive=0 (spec.md §9, Open Question c).
	KeepAliveFallback time.Duration

	upgrader websocket.Upgrader
}

// New constructs a Broker. aud may be nil, in which case lifecycle
// events are not persisted.
func New(logger *slog.Logger, reg *session.Registry, met *metrics.Metrics, aud *audit.Store, keepAliveFallback time.Duration) *Broker {
	b := &Broker{
		Registry:          reg,
		Metrics:           met,
		Audit:             aud,
		Logger:            logger,
		KeepAliveFallback: keepAliveFallback,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	b.Router = &session.Router{
		Registry:      reg,
		Logger:        logger,
		OnFanoutWrite: func() { met.FanoutWritesTotal.Inc() },
		OnFanoutDrop:  func() { met.FanoutWriteErrorsTotal.Inc() },
	}
	return b
}

// Serve runs the TCP accept loop until ctx is cancelled or the listener
// fails. Each accepted connection is handled on its own goroutine.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("broker: accept: %w", err)
			}
		}
		go b.handleConn(ctx, conn)
	}
}

// ServeWebSocket runs an HTTP server on addr that upgrades every
// request on path to a WebSocket and hands the resulting connection to
// the same handler the TCP listener uses (REDESIGN note: WebSocket is
// an alternate transport, not an alternate protocol).
func (b *Broker) ServeWebSocket(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.Logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		b.handleConn(ctx, newWSConn(ws))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown sends every connected session a DISCONNECT with reason
// ServerShuttingDown and closes its socket, used by the application's
// graceful-shutdown path.
func (b *Broker) Shutdown() {
	for _, s := range b.Registry.Sessions() {
		d := &packet.Disconnect{ReasonCode: packet.DisconnectServerShuttingDown}
		if frame, err := d.Encode(); err == nil {
			s.WriteDirect(frame)
		}
		s.Close()
	}
}

// keepAliveInterval maps a CONNECT packet's negotiated keep_alive field
// to the watchdog's check interval, per spec.md §9 Open Question (c):
// 1.5x the negotiated value, or the configured fallback when the
// client asked for no keep-alive at all.
func (b *Broker) keepAliveInterval(negotiated uint16) time.Duration {
	if negotiated == 0 {
		return b.KeepAliveFallback
	}
	return time.Duration(float64(negotiated) * 1.5 * float64(time.Second))
}

// handleConn drives one connection through AwaitingConnect, Connected,
// and Closed (spec.md §4.4). The first packet on the wire must be a
// CONNECT; anything else is a protocol error and the connection is
// dropped without a reply.
func (b *Broker) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	br := bufio.NewReader(conn)

	first, err := packet.ReadPacket(br)
	if err != nil {
		b.Logger.Debug("connection closed before CONNECT", "remote", remote, "error", err)
		conn.Close()
		return
	}

	connect, ok := first.(*packet.Connect)
	if !ok {
		b.Logger.Warn("first packet was not CONNECT, dropping connection",
			"remote", remote, "type", first.Type())
		conn.Close()
		return
	}

	sess := session.New(conn, b.Logger, b.keepAliveInterval(connect.KeepAlive))
	sess.ClientID = connect.ClientID

	b.Registry.Add(sess)
	b.Metrics.ConnectionsActive.Inc()
	b.recordAudit(ctx, sess, audit.EventConnected, "")

	b.Logger.Info("session connected", "session", sess.ID, "client", sess.ClientID, "remote", remote)

	// sendDisconnect is set just before return on the EOF path below, so
	// the peer gets a best-effort NormalDisconnection while its socket is
	// still writable; a client-initiated DISCONNECT or a hard read error
	// skips this (nothing to say, or nothing left to say it to).
	sendDisconnect := false
	defer func() {
		if sendDisconnect {
			d := &packet.Disconnect{ReasonCode: packet.DisconnectNormal}
			if frame, err := d.Encode(); err == nil {
				sess.WriteDirect(frame)
			}
		}
		b.Registry.Remove(sess)
		b.Metrics.ConnectionsActive.Dec()
		b.Metrics.SubscriptionsActive.Set(float64(b.Registry.TopicCount()))
		b.recordAudit(ctx, sess, audit.EventDisconnected, "")
		sess.Close()
		b.Logger.Info("session closed", "session", sess.ID, "client", sess.ClientID)
	}()

	ack := &packet.ConnAck{SessionPresent: false, ReasonCode: packet.ConnAckSuccess}
	if err := sess.WriteDirectPacket(ack); err != nil {
		b.Logger.Debug("write CONNACK failed", "session", sess.ID, "error", err)
		return
	}

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go b.watchdog(sess, watchdogDone)

	for {
		p, err := packet.ReadPacket(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				sendDisconnect = true
			} else {
				b.Logger.Debug("read failed, closing session",
					"session", sess.ID, "client", sess.ClientID, "error", err)
			}
			return
		}
		sess.Touch()

		if done := b.dispatch(ctx, sess, p); done {
			return
		}
	}
}

// dispatch handles one decoded packet from a Connected session. It
// returns true when the connection should be closed.
func (b *Broker) dispatch(ctx context.Context, sess *session.Session, p packet.Packet) bool {
	switch pk := p.(type) {
	case *packet.Publish:
		b.Metrics.PublishesTotal.WithLabelValues(strconv.Itoa(int(pk.QoS))).Inc()
		if pk.QoS == 1 {
			ack := &packet.PubAck{PacketID: pk.MessageID}
			if err := sess.WriteDirectPacket(ack); err != nil {
				return true
			}
		}
		b.Router.Route(pk, sess)
		return false

	case *packet.Subscribe:
		codes := make([]byte, len(pk.Filters))
		for i, f := range pk.Filters {
			code := packet.GrantedQoSOrFailure(f.RequestedQoS)
			codes[i] = code
			if code != packet.SubAckFailure {
				b.Registry.Subscribe(sess, f.Topic)
				b.recordAudit(ctx, sess, audit.EventSubscribed, f.Topic)
			}
		}
		b.Metrics.SubscriptionsActive.Set(float64(b.Registry.TopicCount()))
		suback := &packet.SubAck{PacketID: pk.PacketID, ReturnCodes: codes}
		if err := sess.WriteDirectPacket(suback); err != nil {
			return true
		}
		return false

	case *packet.PingReq:
		if err := sess.WriteDirectPacket(&packet.PingResp{}); err != nil {
			return true
		}
		return false

	case *packet.Disconnect:
		b.Logger.Debug("client disconnected", "session", sess.ID, "client", sess.ClientID, "reason", pk.ReasonCode)
		return true

	default:
		// Protocol violation (stray ack, second CONNECT, …): logged and
		// skipped, connection stays open (spec.md §4.4, §7).
		b.Logger.Warn("unexpected packet type on connected session, ignoring",
			"session", sess.ID, "client", sess.ClientID, "type", p.Type())
		return false
	}
}

// watchdog closes sess once it has gone idle for longer than its
// negotiated keep-alive interval, sending a DISCONNECT with reason
// KeepAliveTimeout first.
func (b *Broker) watchdog(sess *session.Session, done <-chan struct{}) {
	interval := sess.KeepAlive()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if sess.Idle() <= interval {
				continue
			}
			b.Logger.Info("keep-alive timeout, closing session",
				"session", sess.ID, "client", sess.ClientID, "idle", sess.Idle())
			d := &packet.Disconnect{ReasonCode: packet.DisconnectKeepAliveTimeout}
			if frame, err := d.Encode(); err == nil {
				sess.WriteDirect(frame)
			}
			sess.Close()
			return
		}
	}
}

func (b *Broker) recordAudit(ctx context.Context, sess *session.Session, event, topic string) {
	if b.Audit == nil {
		return
	}
	if err := b.Audit.Record(ctx, sess.ID, sess.ClientID, event, topic); err != nil {
		b.Logger.Warn("audit record failed", "session", sess.ID, "event", event, "error", err)
	}
}
