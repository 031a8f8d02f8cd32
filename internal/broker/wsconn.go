package broker

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla/websocket connection to net.Conn so the
// broker's session and packet-framing code never needs to know whether
// a client arrived over raw TCP or the WebSocket listener (SPEC_FULL.md
// §4.7). Each Write call sends exactly one binary message; the session
// writer already writes one complete MQTT frame per call, so frame
// boundaries line up with message boundaries. Read pulls bytes out of
// the current inbound message and advances to the next one once it is
// exhausted, which is what lets bufio.Reader treat this like any other
// streaming socket.
//
// gorilla/websocket permits only one concurrent writer per connection,
// but a session's outbox writer, its handler goroutine (CONNACK/PUBACK/
// SUBACK/PINGRESP via WriteDirect), and the keep-alive watchdog
// (DISCONNECT via WriteDirect) all call Write on the same wsConn. writeMu
// serializes them; a raw TCP net.Conn needs no such guard, so this lock
// lives here rather than in session.Session.
type wsConn struct {
	ws      *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			c.reader = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.SetWriteDeadline(t)
}
