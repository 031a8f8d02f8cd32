package packet

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	encoded, err := p.Encode()
	require.NoError(t, err)

	decoded, err := ReadPacket(bufio.NewReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	return decoded
}

func TestConnectRoundTrip(t *testing.T) {
	c := &Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		ConnectFlags:  connectFlagCleanSession,
		KeepAlive:     60,
		ClientID:      "client1",
		HasUsername:   true,
		Username:      "user",
		HasPassword:   true,
		Password:      "password",
	}
	decoded := roundTrip(t, c)
	got, ok := decoded.(*Connect)
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestConnectWithWillRoundTrip(t *testing.T) {
	c := &Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		ConnectFlags:  connectFlagCleanSession,
		KeepAlive:     30,
		ClientID:      "willer",
		HasWill:       true,
		WillTopic:     "status/willer",
		WillMessage:   "offline",
	}
	decoded := roundTrip(t, c)
	got, ok := decoded.(*Connect)
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestConnectExactBytesFixture(t *testing.T) {
	c := &Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		ConnectFlags:  0b11000010,
		KeepAlive:     60,
		ClientID:      "client1",
		HasUsername:   true,
		Username:      "user",
		HasPassword:   true,
		Password:      "password",
	}
	encoded, err := c.Encode()
	require.NoError(t, err)

	want := []byte{
		0x10, 0x23, 0x00, 0x04, 0x4D, 0x51, 0x54, 0x54, 0x05, 0xC2, 0x00, 0x3C,
		0x00, 0x07, 0x63, 0x6C, 0x69, 0x65, 0x6E, 0x74, 0x31,
		0x00, 0x04, 0x75, 0x73, 0x65, 0x72,
		0x00, 0x08, 0x70, 0x61, 0x73, 0x73, 0x77, 0x6F, 0x72, 0x64,
	}
	assert.Equal(t, want, encoded)
}

func TestConnAckRoundTrip(t *testing.T) {
	sessionExpiry := uint32(3600)
	receiveMax := uint16(100)
	maxPacket := uint32(65536)
	assignedID := "broker-assigned-1"

	ack := &ConnAck{
		SessionPresent: true,
		ReasonCode:     ConnAckSuccess,
		Properties: &ConnAckProperties{
			SessionExpiryInterval:    &sessionExpiry,
			ReceiveMaximum:           &receiveMax,
			MaximumPacketSize:        &maxPacket,
			AssignedClientIdentifier: &assignedID,
		},
	}
	decoded := roundTrip(t, ack)
	got, ok := decoded.(*ConnAck)
	require.True(t, ok)
	assert.Equal(t, ack, got)
}

func TestConnAckExactBytesFixture(t *testing.T) {
	ack := &ConnAck{SessionPresent: false, ReasonCode: ConnAckSuccess}
	encoded, err := ack.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x03, 0x00, 0x00, 0x00}, encoded)
}

func TestConnAckNoPropertiesRoundTrip(t *testing.T) {
	ack := &ConnAck{SessionPresent: false, ReasonCode: ConnAckBadUserNameOrPassword}
	decoded := roundTrip(t, ack)
	got, ok := decoded.(*ConnAck)
	require.True(t, ok)
	assert.Equal(t, ack, got)
}

func TestPublishRoundTripQoS0(t *testing.T) {
	p := &Publish{TopicName: "topic/1", Payload: []byte("hello")}
	decoded := roundTrip(t, p)
	got, ok := decoded.(*Publish)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestPublishRoundTripQoS1(t *testing.T) {
	p := &Publish{TopicName: "t", MessageID: 7, QoS: 1, Retain: true, Dup: true, Payload: []byte{0x01, 0x02}}
	decoded := roundTrip(t, p)
	got, ok := decoded.(*Publish)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestPublishEmptyPayloadRoundTrip(t *testing.T) {
	p := &Publish{TopicName: "nobody"}
	decoded := roundTrip(t, p)
	got, ok := decoded.(*Publish)
	require.True(t, ok)
	assert.Equal(t, []byte(nil), got.Payload)
	assert.Equal(t, p.TopicName, got.TopicName)
}

func TestPubAckExactBytesFixture(t *testing.T) {
	p := &PubAck{PacketID: 42}
	encoded, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x02, 0x00, 0x2A}, encoded)
}

func TestPubAckRoundTrip(t *testing.T) {
	p := &PubAck{PacketID: 1000}
	decoded := roundTrip(t, p)
	got, ok := decoded.(*PubAck)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestPingReqRespExactBytes(t *testing.T) {
	encoded, err := (&PingReq{}).Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0x00}, encoded)

	encoded, err = (&PingResp{}).Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00}, encoded)
}

func TestPingReqRespRoundTrip(t *testing.T) {
	decoded := roundTrip(t, &PingReq{})
	_, ok := decoded.(*PingReq)
	assert.True(t, ok)

	decoded = roundTrip(t, &PingResp{})
	_, ok = decoded.(*PingResp)
	assert.True(t, ok)
}

func TestSubscribeRoundTrip(t *testing.T) {
	s := &Subscribe{
		PacketID: 1,
		Filters: []TopicFilter{
			{Topic: "test", RequestedQoS: 1},
			{Topic: "other/topic", RequestedQoS: 0},
		},
	}
	decoded := roundTrip(t, s)
	got, ok := decoded.(*Subscribe)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestSubscribeFirstByteFixture(t *testing.T) {
	s := &Subscribe{PacketID: 1, Filters: []TopicFilter{{Topic: "test", RequestedQoS: 1}}}
	encoded, err := s.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(0x82), encoded[0])

	decoded := roundTrip(t, s)
	got, ok := decoded.(*Subscribe)
	require.True(t, ok)
	assert.Equal(t, uint16(1), got.PacketID)
	assert.Equal(t, []TopicFilter{{Topic: "test", RequestedQoS: 1}}, got.Filters)
}

func TestSubAckReturnCodesFixture(t *testing.T) {
	requested := []byte{0, 1, 2, 3}
	codes := make([]byte, len(requested))
	for i, q := range requested {
		codes[i] = GrantedQoSOrFailure(q)
	}
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x80}, codes)

	ack := &SubAck{PacketID: 1, ReturnCodes: codes}
	decoded := roundTrip(t, ack)
	got, ok := decoded.(*SubAck)
	require.True(t, ok)
	assert.Equal(t, ack, got)
}

func TestDisconnectRoundTrip(t *testing.T) {
	d := &Disconnect{
		ReasonCode: DisconnectKeepAliveTimeout,
		Properties: map[byte][]byte{0x1F: []byte("idle too long")},
	}
	decoded := roundTrip(t, d)
	got, ok := decoded.(*Disconnect)
	require.True(t, ok)
	assert.Equal(t, d, got)
}

func TestDisconnectNoPropertiesRoundTrip(t *testing.T) {
	d := &Disconnect{ReasonCode: DisconnectNormal, Properties: map[byte][]byte{}}
	decoded := roundTrip(t, d)
	got, ok := decoded.(*Disconnect)
	require.True(t, ok)
	assert.Equal(t, d.ReasonCode, got.ReasonCode)
	assert.Empty(t, got.Properties)
}

func TestDecodeRejectsWrongFirstByte(t *testing.T) {
	_, err := decodeConnect(0x11, nil)
	assert.Error(t, err)

	_, err = decodePubAck(0x41, []byte{0, 1})
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownPacketType(t *testing.T) {
	_, err := decodeBody(0xA0, nil) // UNSUBSCRIBE, not in this codec's scope
	assert.Error(t, err)
}

func TestDecodeRejectsBadUTF8(t *testing.T) {
	// assigned-client-identifier property whose string bytes are not valid UTF-8
	props := []byte{propAssignedClientID, 0x00, 0x02, 0xFF, 0xFE}
	body := append([]byte{0x00, 0x00, byte(len(props))}, props...)
	_, err := decodeConnAck(0x20, body)
	assert.Error(t, err)
}

func TestDecodeRejectsUnrecognisedReasonCode(t *testing.T) {
	_, err := ParseConnAckReason(0x42)
	assert.Error(t, err)

	_, err = ParseDisconnectReason(0x01)
	assert.Error(t, err)
}

func TestDecodeShortBufferFails(t *testing.T) {
	_, err := decodePublish(0x30, []byte{0x00, 0x05, 't', 'o'})
	assert.Error(t, err)
}
