package wire

import (
	"errors"
	"fmt"
)

// CBOR map keys for packet encoding.
const (
	KeyMessageID   = 1
	KeySystemID    = 2
	KeyComponentID = 3
	KeySequence    = 4
	KeyPayload     = 5

	// KeyControlType marks a control message. Packets never use key 0.
	KeyControlType = 0
)

// Packet errors.
var (
	ErrNoSystemID    = errors.New("system id 0 is reserved")
	ErrNotAPacket    = errors.New("not a packet")
	ErrNotAControl   = errors.New("not a control message")
	ErrUnknownFormat = errors.New("unknown message format")
)

// Packet is a schema message on the wire.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32, schema message ID
//	  2: systemId,     // uint8, sender system
//	  3: componentId,  // uint8, sender component
//	  4: sequence,     // uint8, wraps at 255
//	  5: payload       // {fieldKey: value}
//	}
type Packet struct {
	MessageID   uint32         `cbor:"1,keyasint"`
	SystemID    uint8          `cbor:"2,keyasint"`
	ComponentID uint8          `cbor:"3,keyasint"`
	Sequence    uint8          `cbor:"4,keyasint"`
	Payload     map[uint16]any `cbor:"5,keyasint,omitempty"`
}

// Validate checks if the packet is valid.
func (p *Packet) Validate() error {
	if p.SystemID == 0 {
		return ErrNoSystemID
	}
	return nil
}

// String returns a short description for logs.
func (p *Packet) String() string {
	return fmt.Sprintf("msg=%d from=%d/%d seq=%d fields=%d",
		p.MessageID, p.SystemID, p.ComponentID, p.Sequence, len(p.Payload))
}

// ControlMessage represents a transport-level control message.
// These are separate from schema packets.
//
// CBOR encoding:
//
//	{
//	  0: type,      // uint8: 1=ping, 2=pong, 3=close
//	  1: sequence   // uint32, echoed in the pong
//	}
type ControlMessage struct {
	Type     ControlMessageType `cbor:"0,keyasint"`
	Sequence uint32             `cbor:"1,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose announces that the sender is closing the link.
	ControlClose ControlMessageType = 3
)

// IsValid reports whether t is a known control message type.
func (t ControlMessageType) IsValid() bool {
	return t >= ControlPing && t <= ControlClose
}

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return fmt.Sprintf("control(%d)", t)
	}
}
