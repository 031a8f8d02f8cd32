package packet

// Disconnect signals an orderly or broker-initiated connection close.
//
// Property values are carried as raw bytes keyed by their one-byte
// identifier, round-tripped opaquely rather than interpreted (the
// broker only ever sets/reads the reason code). The encoder writes
// each property as [id][length_u8][value bytes]; the decoder expects
// that same explicit length byte, so encode and decode are inverses
// (an earlier revision's encoder omitted the length and its decoder
// assumed a fixed one-byte value, which made them incompatible).
type Disconnect struct {
	ReasonCode DisconnectReason
	Properties map[byte][]byte
}

func (d *Disconnect) Type() Type { return TypeDisconnect }

func (d *Disconnect) Encode() ([]byte, error) {
	body := []byte{byte(d.ReasonCode)}
	for id, value := range d.Properties {
		if len(value) > 255 {
			return nil, malformed("DISCONNECT property 0x%02X value exceeds 255 bytes", id)
		}
		body = append(body, id, byte(len(value)))
		body = append(body, value...)
	}
	return frame(0xE0, body)
}

func decodeDisconnect(first byte, body []byte) (*Disconnect, error) {
	if first != 0xE0 {
		return nil, malformed("DISCONNECT first byte must be 0xE0, got 0x%02X", first)
	}
	if len(body) == 0 {
		return nil, malformed("DISCONNECT requires at least a reason code")
	}

	r := newReader(body)

	reasonByte, err := r.readByte()
	if err != nil {
		return nil, malformed("read reason code: %v", err)
	}
	reason, err := ParseDisconnectReason(reasonByte)
	if err != nil {
		return nil, err
	}

	props := make(map[byte][]byte)
	for r.remaining() > 0 {
		id, err := r.readByte()
		if err != nil {
			return nil, malformed("read property identifier: %v", err)
		}
		length, err := r.readByte()
		if err != nil {
			return nil, malformed("read property length: %v", err)
		}
		value, err := r.readBytes(int(length))
		if err != nil {
			return nil, malformed("read property value: %v", err)
		}
		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)
		props[id] = valueCopy
	}

	return &Disconnect{ReasonCode: reason, Properties: props}, nil
}
