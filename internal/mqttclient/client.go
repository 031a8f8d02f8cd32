// Package mqttclient is a reference client driver for the broker's
// wire protocol, used by cmd/mqttcli. It intentionally does not reuse
// a general-purpose MQTT client library: any such library speaks its
// own wire codec, and this one must drive exactly the codec in
// internal/packet (see DESIGN.md).
package mqttclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"mqttd/internal/packet"
)

// Client is a single connection to the broker, handshaked and ready to
// subscribe, publish, and listen.
type Client struct {
	conn     net.Conn
	reader   *bufio.Reader
	ClientID string
}

// Dial opens a TCP connection to addr and performs the CONNECT/CONNACK
// handshake, grounded on the exact CONNECT construction in the original
// Rust client (protocol "MQTT", level 5, clean session).
func Dial(ctx context.Context, addr, clientID string, keepAlive uint16) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mqttclient: dial %s: %w", addr, err)
	}

	c := &Client{conn: conn, reader: bufio.NewReader(conn), ClientID: clientID}

	connect := &packet.Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		ConnectFlags:  1 << 1, // clean session
		KeepAlive:     keepAlive,
		ClientID:      clientID,
	}
	if err := c.write(connect); err != nil {
		conn.Close()
		return nil, err
	}

	pkt, err := packet.ReadPacket(c.reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mqttclient: read CONNACK: %w", err)
	}
	ack, ok := pkt.(*packet.ConnAck)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("mqttclient: expected CONNACK, got %s", pkt.Type())
	}
	if ack.ReasonCode != packet.ConnAckSuccess {
		conn.Close()
		return nil, fmt.Errorf("mqttclient: broker rejected connect: %s", ack.ReasonCode)
	}

	return c, nil
}

func (c *Client) write(p packet.Packet) error {
	frame, err := p.Encode()
	if err != nil {
		return fmt.Errorf("mqttclient: encode %s: %w", p.Type(), err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("mqttclient: write %s: %w", p.Type(), err)
	}
	return nil
}

// Subscribe joins topic at the requested QoS and waits for the SUBACK.
func (c *Client) Subscribe(packetID uint16, topic string, qos byte) (*packet.SubAck, error) {
	sub := &packet.Subscribe{
		PacketID: packetID,
		Filters:  []packet.TopicFilter{{Topic: topic, RequestedQoS: qos}},
	}
	if err := c.write(sub); err != nil {
		return nil, err
	}

	pkt, err := packet.ReadPacket(c.reader)
	if err != nil {
		return nil, fmt.Errorf("mqttclient: read SUBACK: %w", err)
	}
	suback, ok := pkt.(*packet.SubAck)
	if !ok {
		return nil, fmt.Errorf("mqttclient: expected SUBACK, got %s", pkt.Type())
	}
	return suback, nil
}

// Publish sends topic/payload at the given QoS. For QoS 1 it waits for
// the PUBACK before returning.
func (c *Client) Publish(topic string, payload []byte, qos byte, messageID uint16) error {
	pub := &packet.Publish{TopicName: topic, Payload: payload, QoS: qos, MessageID: messageID}
	if err := c.write(pub); err != nil {
		return err
	}
	if qos == 0 {
		return nil
	}

	pkt, err := packet.ReadPacket(c.reader)
	if err != nil {
		return fmt.Errorf("mqttclient: read PUBACK: %w", err)
	}
	ack, ok := pkt.(*packet.PubAck)
	if !ok {
		return fmt.Errorf("mqttclient: expected PUBACK, got %s", pkt.Type())
	}
	if ack.PacketID != messageID {
		return fmt.Errorf("mqttclient: PUBACK id %d does not match published id %d", ack.PacketID, messageID)
	}
	return nil
}

// Ping sends a PINGREQ. It does not wait for the PINGRESP; inbound
// PINGRESP packets are drained by Listen alongside PUBLISH traffic.
func (c *Client) Ping() error {
	return c.write(&packet.PingReq{})
}

// Disconnect sends an orderly DISCONNECT and closes the socket.
func (c *Client) Disconnect(reason packet.DisconnectReason) error {
	err := c.write(&packet.Disconnect{ReasonCode: reason})
	c.conn.Close()
	return err
}

// Close closes the underlying connection without sending DISCONNECT.
func (c *Client) Close() error { return c.conn.Close() }

// Listen reads packets until ctx is cancelled or the connection fails,
// invoking onPublish for each inbound PUBLISH. It returns nil on a
// clean ctx cancellation and the underlying error otherwise.
func (c *Client) Listen(ctx context.Context, onPublish func(*packet.Publish)) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		pkt, err := packet.ReadPacket(c.reader)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		switch p := pkt.(type) {
		case *packet.Publish:
			if onPublish != nil {
				onPublish(p)
			}
		case *packet.PingResp:
			// liveness acknowledgement, nothing to do
		case *packet.Disconnect:
			return fmt.Errorf("mqttclient: broker disconnected: %s", p.ReasonCode)
		default:
			return fmt.Errorf("mqttclient: unexpected packet %s", pkt.Type())
		}
	}
}

// KeepAlive sends a PINGREQ every interval until ctx is cancelled.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return err
			}
		}
	}
}
