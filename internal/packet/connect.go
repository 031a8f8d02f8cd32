package packet

const (
	connectFlagUsername    = 1 << 7
	connectFlagPassword    = 1 << 6
	connectFlagWillRetain   = 1 << 5
	connectFlagWillQoSMask  = 0x18
	connectFlagWillPresent  = 1 << 2
	connectFlagCleanSession = 1 << 1
)

// Connect is the CONNECT packet: the handshake a client sends to open a
// session with the broker.
type Connect struct {
	ProtocolName string
	ProtocolLevel byte
	ConnectFlags  byte
	KeepAlive     uint16
	ClientID      string
	WillTopic     string
	WillMessage   string
	Username      string
	Password      string

	HasWill     bool
	HasUsername bool
	HasPassword bool
}

func (c *Connect) Type() Type { return TypeConnect }

// CleanSession reports whether bit 1 of the connect flags is set.
func (c *Connect) CleanSession() bool { return c.ConnectFlags&connectFlagCleanSession != 0 }

func (c *Connect) Encode() ([]byte, error) {
	var body []byte
	body = writeString(body, c.ProtocolName)
	body = append(body, c.ProtocolLevel)

	flags := c.ConnectFlags
	if c.HasWill {
		flags |= connectFlagWillPresent
	}
	if c.HasUsername {
		flags |= connectFlagUsername
	}
	if c.HasPassword {
		flags |= connectFlagPassword
	}
	body = append(body, flags)

	body = writeUint16(body, c.KeepAlive)
	body = writeString(body, c.ClientID)

	if c.HasWill {
		body = writeString(body, c.WillTopic)
		body = writeString(body, c.WillMessage)
	}
	if c.HasUsername {
		body = writeString(body, c.Username)
	}
	if c.HasPassword {
		body = writeString(body, c.Password)
	}

	return frame(0x10, body)
}

func decodeConnect(first byte, body []byte) (*Connect, error) {
	if first != 0x10 {
		return nil, malformed("CONNECT first byte must be 0x10, got 0x%02X", first)
	}

	r := newReader(body)

	protoName, err := r.readString()
	if err != nil {
		return nil, malformed("read protocol name: %v", err)
	}

	level, err := r.readByte()
	if err != nil {
		return nil, malformed("read protocol level: %v", err)
	}

	flags, err := r.readByte()
	if err != nil {
		return nil, malformed("read connect flags: %v", err)
	}

	keepAlive, err := r.readUint16()
	if err != nil {
		return nil, malformed("read keep alive: %v", err)
	}

	clientID, err := r.readString()
	if err != nil {
		return nil, malformed("read client id: %v", err)
	}

	c := &Connect{
		ProtocolName:  protoName,
		ProtocolLevel: level,
		ConnectFlags:  flags &^ (connectFlagWillPresent | connectFlagUsername | connectFlagPassword),
		KeepAlive:     keepAlive,
		ClientID:      clientID,
	}

	if flags&connectFlagWillPresent != 0 {
		c.HasWill = true
		c.WillTopic, err = r.readString()
		if err != nil {
			return nil, malformed("read will topic: %v", err)
		}
		c.WillMessage, err = r.readString()
		if err != nil {
			return nil, malformed("read will message: %v", err)
		}
	}

	if flags&connectFlagUsername != 0 {
		c.HasUsername = true
		c.Username, err = r.readString()
		if err != nil {
			return nil, malformed("read username: %v", err)
		}
	}

	if flags&connectFlagPassword != 0 {
		c.HasPassword = true
		c.Password, err = r.readString()
		if err != nil {
			return nil, malformed("read password: %v", err)
		}
	}

	return c, nil
}
