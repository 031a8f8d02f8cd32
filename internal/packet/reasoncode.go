package packet

import "fmt"

// ConnAckReason is the closed enumeration of CONNACK reason codes this
// broker recognises (spec §6).
type ConnAckReason byte

const (
	ConnAckSuccess                     ConnAckReason = 0x00
	ConnAckUnspecifiedError            ConnAckReason = 0x80
	ConnAckMalformedPacket             ConnAckReason = 0x81
	ConnAckProtocolError               ConnAckReason = 0x82
	ConnAckImplementationSpecificError ConnAckReason = 0x83
	ConnAckUnsupportedProtocolVersion  ConnAckReason = 0x84
	ConnAckClientIdentifierNotValid    ConnAckReason = 0x85
	ConnAckBadUserNameOrPassword       ConnAckReason = 0x86
	ConnAckNotAuthorized               ConnAckReason = 0x87
	ConnAckServerUnavailable           ConnAckReason = 0x88
	ConnAckServerBusy                  ConnAckReason = 0x89
	ConnAckBanned                      ConnAckReason = 0x8A
	ConnAckBadAuthenticationMethod     ConnAckReason = 0x8C
	ConnAckTopicNameInvalid            ConnAckReason = 0x90
	ConnAckPacketTooLarge              ConnAckReason = 0x95
	ConnAckQuotaExceeded               ConnAckReason = 0x97
	ConnAckPayloadFormatInvalid        ConnAckReason = 0x99
	ConnAckRetainNotSupported          ConnAckReason = 0x9A
	ConnAckQosNotSupported             ConnAckReason = 0x9B
	ConnAckUseAnotherServer            ConnAckReason = 0x9C
	ConnAckServerMoved                 ConnAckReason = 0x9D
	ConnAckConnectionRateExceeded      ConnAckReason = 0x9F
)

var connAckReasonNames = map[ConnAckReason]string{
	ConnAckSuccess:                     "Success",
	ConnAckUnspecifiedError:            "UnspecifiedError",
	ConnAckMalformedPacket:             "MalformedPacket",
	ConnAckProtocolError:               "ProtocolError",
	ConnAckImplementationSpecificError: "ImplementationSpecificError",
	ConnAckUnsupportedProtocolVersion:  "UnsupportedProtocolVersion",
	ConnAckClientIdentifierNotValid:    "ClientIdentifierNotValid",
	ConnAckBadUserNameOrPassword:       "BadUserNameOrPassword",
	ConnAckNotAuthorized:               "NotAuthorized",
	ConnAckServerUnavailable:           "ServerUnavailable",
	ConnAckServerBusy:                  "ServerBusy",
	ConnAckBanned:                      "Banned",
	ConnAckBadAuthenticationMethod:     "BadAuthenticationMethod",
	ConnAckTopicNameInvalid:            "TopicNameInvalid",
	ConnAckPacketTooLarge:              "PacketTooLarge",
	ConnAckQuotaExceeded:               "QuotaExceeded",
	ConnAckPayloadFormatInvalid:        "PayloadFormatInvalid",
	ConnAckRetainNotSupported:          "RetainNotSupported",
	ConnAckQosNotSupported:             "QosNotSupported",
	ConnAckUseAnotherServer:            "UseAnotherServer",
	ConnAckServerMoved:                 "ServerMoved",
	ConnAckConnectionRateExceeded:      "ConnectionRateExceeded",
}

func (c ConnAckReason) String() string {
	if name, ok := connAckReasonNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ConnAckReason(0x%02X)", byte(c))
}

// ParseConnAckReason decodes a reason-code byte, failing on any value
// outside the closed set above.
func ParseConnAckReason(b byte) (ConnAckReason, error) {
	if _, ok := connAckReasonNames[ConnAckReason(b)]; !ok {
		return 0, malformed("unrecognised CONNACK reason code 0x%02X", b)
	}
	return ConnAckReason(b), nil
}

// DisconnectReason is the closed enumeration of DISCONNECT reason codes
// this broker sends and accepts (spec §6).
type DisconnectReason byte

const (
	DisconnectNormal             DisconnectReason = 0x00
	DisconnectWithWillMessage    DisconnectReason = 0x04
	DisconnectServerShuttingDown DisconnectReason = 0x8B
	DisconnectKeepAliveTimeout   DisconnectReason = 0x8D
)

var disconnectReasonNames = map[DisconnectReason]string{
	DisconnectNormal:             "NormalDisconnection",
	DisconnectWithWillMessage:    "DisconnectWithWillMessage",
	DisconnectServerShuttingDown: "ServerShuttingDown",
	DisconnectKeepAliveTimeout:   "KeepAliveTimeout",
}

func (d DisconnectReason) String() string {
	if name, ok := disconnectReasonNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DisconnectReason(0x%02X)", byte(d))
}

// ParseDisconnectReason decodes a reason-code byte, failing on any value
// outside the closed set above.
func ParseDisconnectReason(b byte) (DisconnectReason, error) {
	if _, ok := disconnectReasonNames[DisconnectReason(b)]; !ok {
		return 0, malformed("unrecognised DISCONNECT reason code 0x%02X", b)
	}
	return DisconnectReason(b), nil
}
