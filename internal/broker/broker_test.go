package broker

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mqttd/internal/metrics"
	"mqttd/internal/packet"
	"mqttd/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBroker starts a Broker on a loopback TCP listener and returns its
// address plus a cancel func that tears down the accept loop.
func testBroker(t *testing.T, keepAliveFallback time.Duration) (addr string, cancel func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	reg := session.NewRegistry()
	b := New(discardLogger(), reg, metrics.New(), nil, keepAliveFallback)

	ctx, stop := context.WithCancel(context.Background())
	go b.Serve(ctx, ln)

	return ln.Addr().String(), func() {
		stop()
		ln.Close()
	}
}

// testClient dials addr and performs the CONNECT/CONNACK handshake,
// returning the connection and its buffered reader for subsequent
// packet exchanges.
func testClient(t *testing.T, addr, clientID string, keepAlive uint16) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	connect := &packet.Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		ConnectFlags:  0,
		KeepAlive:     keepAlive,
		ClientID:      clientID,
	}
	frame, err := connect.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	pkt, err := packet.ReadPacket(br)
	require.NoError(t, err)
	ack, ok := pkt.(*packet.ConnAck)
	require.True(t, ok, "expected CONNACK, got %T", pkt)
	require.Equal(t, packet.ConnAckSuccess, ack.ReasonCode)

	return conn, br
}

func subscribe(t *testing.T, conn net.Conn, br *bufio.Reader, packetID uint16, topic string, qos byte) *packet.SubAck {
	t.Helper()

	sub := &packet.Subscribe{
		PacketID: packetID,
		Filters:  []packet.TopicFilter{{Topic: topic, RequestedQoS: qos}},
	}
	frame, err := sub.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	pkt, err := packet.ReadPacket(br)
	require.NoError(t, err)
	suback, ok := pkt.(*packet.SubAck)
	require.True(t, ok, "expected SUBACK, got %T", pkt)
	return suback
}

func publish(t *testing.T, conn net.Conn, topic string, payload []byte, qos byte, messageID uint16) {
	t.Helper()

	pub := &packet.Publish{TopicName: topic, Payload: payload, QoS: qos, MessageID: messageID}
	frame, err := pub.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func TestSinglePublisherSingleSubscriber(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	subConn, subReader := testClient(t, addr, "subscriber", 60)
	defer subConn.Close()
	suback := subscribe(t, subConn, subReader, 1, "sensors/temp", 0)
	require.Equal(t, []byte{packet.SubAckGrantedQoS0}, suback.ReturnCodes)

	pubConn, _ := testClient(t, addr, "publisher", 60)
	defer pubConn.Close()
	publish(t, pubConn, "sensors/temp", []byte("21.5"), 0, 0)

	subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := packet.ReadPacket(subReader)
	require.NoError(t, err)
	got, ok := pkt.(*packet.Publish)
	require.True(t, ok, "expected PUBLISH, got %T", pkt)
	require.Equal(t, "sensors/temp", got.TopicName)
	require.Equal(t, []byte("21.5"), got.Payload)
}

// TestQoS1PubAckPrecedesFanout drives a QoS 1 PUBLISH from a publisher
// while a separate client is subscribed to the same topic, and asserts
// the publisher receives its PUBACK and no PUBLISH of its own, while the
// subscriber receives the fanned-out PUBLISH — invariant 4 / spec.md
// §5(b): acks bypass the outbox via WriteDirect, and dispatch writes the
// PUBACK before calling Router.Route. The relative timing of the two
// writes on different connections is not observed by this test.
func TestQoS1PubAckPrecedesFanout(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	subConn, subReader := testClient(t, addr, "subscriber", 60)
	defer subConn.Close()
	subscribe(t, subConn, subReader, 1, "sensors/humidity", 1)

	pubConn, pubReader := testClient(t, addr, "publisher", 60)
	defer pubConn.Close()

	publish(t, pubConn, "sensors/humidity", []byte("55"), 1, 42)

	pubConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ackPkt, err := packet.ReadPacket(pubReader)
	require.NoError(t, err)
	puback, ok := ackPkt.(*packet.PubAck)
	require.True(t, ok, "expected PUBACK on publisher's own connection, got %T", ackPkt)
	require.Equal(t, uint16(42), puback.PacketID)

	ping := &packet.PingReq{}
	frame, err := ping.Encode()
	require.NoError(t, err)
	_, err = pubConn.Write(frame)
	require.NoError(t, err)
	pingPkt, err := packet.ReadPacket(pubReader)
	require.NoError(t, err)
	_, ok = pingPkt.(*packet.PingResp)
	require.True(t, ok, "publisher must not receive its own PUBLISH back, got %T", pingPkt)

	subConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	subPkt, err := packet.ReadPacket(subReader)
	require.NoError(t, err)
	subFanout, ok := subPkt.(*packet.Publish)
	require.True(t, ok, "expected fanned-out PUBLISH on subscriber connection, got %T", subPkt)
	require.Equal(t, []byte("55"), subFanout.Payload)
}

func TestNoSubscribers(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	pubConn, pubReader := testClient(t, addr, "lonely-publisher", 60)
	defer pubConn.Close()
	publish(t, pubConn, "nobody/listening", []byte("hello"), 0, 0)

	ping := &packet.PingReq{}
	frame, err := ping.Encode()
	require.NoError(t, err)
	_, err = pubConn.Write(frame)
	require.NoError(t, err)

	pubConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := packet.ReadPacket(pubReader)
	require.NoError(t, err)
	_, ok := pkt.(*packet.PingResp)
	require.True(t, ok, "expected PINGRESP (no PUBLISH should have arrived), got %T", pkt)
}

func TestSenderExclusion(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	conn, br := testClient(t, addr, "self-subscriber", 60)
	defer conn.Close()
	subscribe(t, conn, br, 1, "room/echo", 0)

	publish(t, conn, "room/echo", []byte("ping"), 0, 0)

	ping := &packet.PingReq{}
	frame, err := ping.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := packet.ReadPacket(br)
	require.NoError(t, err)
	_, ok := pkt.(*packet.PingResp)
	require.True(t, ok, "publisher must not receive its own PUBLISH back, got %T", pkt)
}

func TestSubAckReturnCodesForInvalidQoS(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	conn, br := testClient(t, addr, "subscriber", 60)
	defer conn.Close()

	sub := &packet.Subscribe{
		PacketID: 7,
		Filters: []packet.TopicFilter{
			{Topic: "a", RequestedQoS: 0},
			{Topic: "b", RequestedQoS: 1},
			{Topic: "c", RequestedQoS: 3},
		},
	}
	frame, err := sub.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	pkt, err := packet.ReadPacket(br)
	require.NoError(t, err)
	suback := pkt.(*packet.SubAck)
	require.Equal(t, []byte{packet.SubAckGrantedQoS0, packet.SubAckGrantedQoS1, packet.SubAckFailure}, suback.ReturnCodes)
}

func TestOrderlyClose(t *testing.T) {
	addr, cancel := testBroker(t, 60*time.Second)
	defer cancel()

	conn, br := testClient(t, addr, "well-behaved", 60)
	defer conn.Close()

	d := &packet.Disconnect{ReasonCode: packet.DisconnectNormal}
	frame, err := d.Encode()
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = br.ReadByte()
	require.Error(t, err, "broker should close the socket after a client DISCONNECT")
}

func TestKeepAliveTimeout(t *testing.T) {
	addr, cancel := testBroker(t, 200*time.Millisecond)
	defer cancel()

	conn, br := testClient(t, addr, "idle-client", 0)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := packet.ReadPacket(br)
	require.NoError(t, err)
	disc, ok := pkt.(*packet.Disconnect)
	require.True(t, ok, "expected DISCONNECT after keep-alive timeout, got %T", pkt)
	require.Equal(t, packet.DisconnectKeepAliveTimeout, disc.ReasonCode)
}
