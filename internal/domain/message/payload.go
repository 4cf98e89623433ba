package message

import (
	"encoding/binary"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
)

// Built-in payload kinds. Protocol packages register theirs from 0x100 up.
const (
	KindEmpty Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindNotification
	KindTransfer
)

var le = binary.LittleEndian

// Empty is a payload with no fields.
type Empty struct{}

func (Empty) Kind() Kind                  { return KindEmpty }
func (Empty) Encode(*[PayloadSize]byte) {}

// U8 is the raw byte view of the payload block.
type U8 [PayloadSize]byte

func (U8) Kind() Kind { return KindU8 }

func (p U8) Encode(b *[PayloadSize]byte) { *b = p }

// U16 is the block viewed as 16-bit words.
type U16 [PayloadSize / 2]uint16

func (U16) Kind() Kind { return KindU16 }

func (p U16) Encode(b *[PayloadSize]byte) {
	for i, v := range p {
		le.PutUint16(b[i*2:], v)
	}
}

// U32 is the block viewed as 32-bit words.
type U32 [PayloadSize / 4]uint32

func (U32) Kind() Kind { return KindU32 }

func (p U32) Encode(b *[PayloadSize]byte) {
	for i, v := range p {
		le.PutUint32(b[i*4:], v)
	}
}

// U64 is the block viewed as 64-bit words.
type U64 [PayloadSize / 8]uint64

func (U64) Kind() Kind { return KindU64 }

func (p U64) Encode(b *[PayloadSize]byte) {
	for i, v := range p {
		le.PutUint64(b[i*8:], v)
	}
}

// Notification is the payload of a message synthesized from a pending notify.
type Notification struct {
	// Timestamp is the kernel tick count when the notification was delivered.
	Timestamp uint64
}

func (Notification) Kind() Kind { return KindNotification }

func (p Notification) Encode(b *[PayloadSize]byte) {
	le.PutUint64(b[0:], p.Timestamp)
}

// Transfer describes a grant-backed data transfer, as used by driver read/write requests.
type Transfer struct {
	Owner  endpoint.Endpoint
	Grant  int32
	Offset uint64
	Size   uint64
	Flags  uint32
}

func (Transfer) Kind() Kind { return KindTransfer }

func (p Transfer) Encode(b *[PayloadSize]byte) {
	le.PutUint32(b[0:], uint32(p.Owner))
	le.PutUint32(b[4:], uint32(p.Grant))
	le.PutUint64(b[8:], p.Offset)
	le.PutUint64(b[16:], p.Size)
	le.PutUint32(b[24:], p.Flags)
}

func init() {
	Register(KindEmpty, "empty", func([PayloadSize]byte) (Payload, error) {
		return nil, nil
	})
	Register(KindU8, "u8", func(b [PayloadSize]byte) (Payload, error) {
		return U8(b), nil
	})
	Register(KindU16, "u16", func(b [PayloadSize]byte) (Payload, error) {
		var p U16
		for i := range p {
			p[i] = le.Uint16(b[i*2:])
		}
		return p, nil
	})
	Register(KindU32, "u32", func(b [PayloadSize]byte) (Payload, error) {
		var p U32
		for i := range p {
			p[i] = le.Uint32(b[i*4:])
		}
		return p, nil
	})
	Register(KindU64, "u64", func(b [PayloadSize]byte) (Payload, error) {
		var p U64
		for i := range p {
			p[i] = le.Uint64(b[i*8:])
		}
		return p, nil
	})
	Register(KindNotification, "notification", func(b [PayloadSize]byte) (Payload, error) {
		return Notification{Timestamp: le.Uint64(b[0:])}, nil
	})
	Register(KindTransfer, "transfer", func(b [PayloadSize]byte) (Payload, error) {
		return Transfer{
			Owner:  endpoint.Endpoint(int32(le.Uint32(b[0:]))),
			Grant:  int32(le.Uint32(b[4:])),
			Offset: le.Uint64(b[8:]),
			Size:   le.Uint64(b[16:]),
			Flags:  le.Uint32(b[24:]),
		}, nil
	})
}
