package packet

const (
	publishFlagRetain   = 0x01
	publishFlagQoSMask  = 0x06
	publishFlagQoSShift = 1
	publishFlagDup      = 0x08
)

// Publish carries an application message from a publisher to the
// broker, or from the broker to a subscriber.
type Publish struct {
	TopicName string
	MessageID uint16
	QoS       byte
	Retain    bool
	Dup       bool
	Payload   []byte
}

func (p *Publish) Type() Type { return TypePublish }

func (p *Publish) Encode() ([]byte, error) {
	if p.QoS > 2 {
		return nil, malformed("PUBLISH QoS %d out of range", p.QoS)
	}

	first := byte(TypePublish) << 4
	first |= (p.QoS << publishFlagQoSShift) & publishFlagQoSMask
	if p.Retain {
		first |= publishFlagRetain
	}
	if p.Dup {
		first |= publishFlagDup
	}

	var body []byte
	body = writeString(body, p.TopicName)
	if p.QoS > 0 {
		body = writeUint16(body, p.MessageID)
	}
	body = append(body, p.Payload...)

	return frame(first, body)
}

func decodePublish(first byte, body []byte) (*Publish, error) {
	if Type(first>>4) != TypePublish {
		return nil, malformed("PUBLISH first byte has wrong packet type: 0x%02X", first)
	}

	qos := (first & publishFlagQoSMask) >> publishFlagQoSShift
	if qos == 3 {
		return nil, malformed("PUBLISH QoS value 3 is invalid")
	}

	r := newReader(body)

	topic, err := r.readString()
	if err != nil {
		return nil, malformed("read topic name: %v", err)
	}

	var messageID uint16
	if qos > 0 {
		messageID, err = r.readUint16()
		if err != nil {
			return nil, malformed("read message id: %v", err)
		}
	}

	payload, err := r.readBytes(r.remaining())
	if err != nil {
		return nil, malformed("read payload: %v", err)
	}
	// Copy so the decoded payload does not alias the caller's body slice;
	// an empty payload decodes to nil, matching an unset Payload field.
	var payloadCopy []byte
	if len(payload) > 0 {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}

	return &Publish{
		TopicName: topic,
		MessageID: messageID,
		QoS:       qos,
		Retain:    first&publishFlagRetain != 0,
		Dup:       first&publishFlagDup != 0,
		Payload:   payloadCopy,
	}, nil
}
