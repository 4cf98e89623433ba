// Package message defines the fixed-size IPC message and its payload variants.
//
// On the wire a message is 64 bytes: the sender endpoint, a type tag and a 56-byte payload
// block. In Go the payload is a tagged variant: every payload type reports its Kind and knows
// how to lay itself out in the 56-byte block. Higher-level protocols add their own variants
// with Register, so the transport never needs to know them.
//
// The kernel moves messages by encoding them into a Frame and decoding a fresh copy for the
// receiver, so sender and receiver never share payload memory.
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

const (
	// Size is the encoded size of a message.
	Size = 64
	// PayloadSize is the size of the payload block.
	PayloadSize = 56

	headerSize = Size - PayloadSize
)

// Type is the message type tag; its meaning is agreed between caller and callee.
// Replies built by the kernel-side helpers carry a status code here.
type Type int32

const (
	// NotifyMessage is the type of messages synthesized from pending notifications.
	NotifyMessage Type = 0x1000
)

// Message is one IPC message.
type Message struct {
	Source  endpoint.Endpoint
	Type    Type
	Payload Payload
}

// New builds a message of type t carrying p.
func New(t Type, p Payload) Message {
	return Message{Type: t, Payload: p}
}

// Kind returns the kind of the payload, KindEmpty for none.
func (m Message) Kind() Kind {
	if m.Payload == nil {
		return KindEmpty
	}
	return m.Payload.Kind()
}

// IsNotify reports whether m was synthesized from a notification.
func (m Message) IsNotify() bool {
	return m.Type == NotifyMessage
}

// Frame is an encoded message plus the kind tag needed to decode its payload.
type Frame struct {
	Kind  Kind
	Bytes [Size]byte
}

// Encode lays m out in a frame. The payload kind must be registered.
func Encode(m Message) (Frame, error) {
	kind := m.Kind()
	if !Registered(kind) {
		return Frame{}, fmt.Errorf("payload kind %d: %w", kind, errno.ErrBadMessage)
	}

	var f Frame
	f.Kind = kind
	binary.LittleEndian.PutUint32(f.Bytes[0:4], uint32(m.Source))
	binary.LittleEndian.PutUint32(f.Bytes[4:8], uint32(m.Type))
	if m.Payload != nil {
		var block [PayloadSize]byte
		m.Payload.Encode(&block)
		copy(f.Bytes[headerSize:], block[:])
	}
	return f, nil
}

// Decode rebuilds a message from a frame.
func Decode(f Frame) (Message, error) {
	var block [PayloadSize]byte
	copy(block[:], f.Bytes[headerSize:])

	p, err := decodePayload(f.Kind, block)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Source:  endpoint.Endpoint(int32(binary.LittleEndian.Uint32(f.Bytes[0:4]))),
		Type:    Type(int32(binary.LittleEndian.Uint32(f.Bytes[4:8]))),
		Payload: p,
	}, nil
}
