package packet

const (
	propSessionExpiryInterval byte = 0x11
	propAssignedClientID      byte = 0x12
	propReceiveMaximum        byte = 0x21
	propMaximumPacketSize     byte = 0x27
)

// ConnAckProperties carries the optional CONNACK properties this codec
// exchanges. Earlier revisions of this decoder read the properties
// length and bytes but discarded them into an all-absent struct; this
// one fully decodes the four identifiers the encoder emits.
type ConnAckProperties struct {
	SessionExpiryInterval    *uint32
	ReceiveMaximum           *uint16
	MaximumPacketSize        *uint32
	AssignedClientIdentifier *string
}

// ConnAck is the broker's response to a CONNECT.
type ConnAck struct {
	SessionPresent bool
	ReasonCode     ConnAckReason
	Properties     *ConnAckProperties
}

func (c *ConnAck) Type() Type { return TypeConnAck }

func (c *ConnAck) Encode() ([]byte, error) {
	var body []byte
	if c.SessionPresent {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	body = append(body, byte(c.ReasonCode))

	var props []byte
	if c.Properties != nil {
		p := c.Properties
		if p.SessionExpiryInterval != nil {
			props = append(props, propSessionExpiryInterval)
			props = writeUint32(props, *p.SessionExpiryInterval)
		}
		if p.ReceiveMaximum != nil {
			props = append(props, propReceiveMaximum)
			props = writeUint16(props, *p.ReceiveMaximum)
		}
		if p.MaximumPacketSize != nil {
			props = append(props, propMaximumPacketSize)
			props = writeUint32(props, *p.MaximumPacketSize)
		}
		if p.AssignedClientIdentifier != nil {
			props = append(props, propAssignedClientID)
			props = writeString(props, *p.AssignedClientIdentifier)
		}
	}

	if len(props) > 255 {
		return nil, malformed("CONNACK properties exceed 255 bytes")
	}
	body = append(body, byte(len(props)))
	body = append(body, props...)

	return frame(0x20, body)
}

func decodeConnAck(first byte, body []byte) (*ConnAck, error) {
	if first != 0x20 {
		return nil, malformed("CONNACK first byte must be 0x20, got 0x%02X", first)
	}

	r := newReader(body)

	sp, err := r.readByte()
	if err != nil {
		return nil, malformed("read session present: %v", err)
	}
	if sp != 0 && sp != 1 {
		return nil, malformed("invalid session present flag %d", sp)
	}

	reasonByte, err := r.readByte()
	if err != nil {
		return nil, malformed("read reason code: %v", err)
	}
	reason, err := ParseConnAckReason(reasonByte)
	if err != nil {
		return nil, err
	}

	propsLen, err := r.readByte()
	if err != nil {
		return nil, malformed("read properties length: %v", err)
	}

	ack := &ConnAck{SessionPresent: sp == 1, ReasonCode: reason}

	if propsLen > 0 {
		propsBytes, err := r.readBytes(int(propsLen))
		if err != nil {
			return nil, malformed("read properties: %v", err)
		}
		props, err := decodeConnAckProperties(propsBytes)
		if err != nil {
			return nil, err
		}
		ack.Properties = props
	}

	return ack, nil
}

func decodeConnAckProperties(buf []byte) (*ConnAckProperties, error) {
	r := newReader(buf)
	props := &ConnAckProperties{}

	for r.remaining() > 0 {
		id, err := r.readByte()
		if err != nil {
			return nil, malformed("read property identifier: %v", err)
		}

		switch id {
		case propSessionExpiryInterval:
			v, err := r.readUint32()
			if err != nil {
				return nil, malformed("read session expiry interval: %v", err)
			}
			props.SessionExpiryInterval = &v
		case propReceiveMaximum:
			v, err := r.readUint16()
			if err != nil {
				return nil, malformed("read receive maximum: %v", err)
			}
			props.ReceiveMaximum = &v
		case propMaximumPacketSize:
			v, err := r.readUint32()
			if err != nil {
				return nil, malformed("read maximum packet size: %v", err)
			}
			props.MaximumPacketSize = &v
		case propAssignedClientID:
			v, err := r.readString()
			if err != nil {
				return nil, malformed("read assigned client identifier: %v", err)
			}
			props.AssignedClientIdentifier = &v
		default:
			return nil, malformed("unrecognised CONNACK property identifier 0x%02X", id)
		}
	}

	return props, nil
}
