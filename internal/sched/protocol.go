package sched

import (
	"encoding/binary"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Request types understood by a scheduler.
const (
	SchedulingStart message.Type = 0xf00 + iota
	SchedulingStop
	SchedulingSetNice
	SchedulingInherit
)

// Payload kinds of the scheduling protocol.
const (
	KindRequest message.Kind = 0x100 + iota
	KindReply
)

var le = binary.LittleEndian

// Request is the payload of every scheduling request.
type Request struct {
	Schedulee   endpoint.Endpoint
	Parent      endpoint.Endpoint
	MaxPriority int32
	Quantum     int32
	CPU         int32
	Nice        int32
	// Hops counts how many times the request has been forwarded between schedulers.
	Hops uint8
}

func (Request) Kind() message.Kind { return KindRequest }

func (r Request) Encode(b *[message.PayloadSize]byte) {
	le.PutUint32(b[0:], uint32(r.Schedulee))
	le.PutUint32(b[4:], uint32(r.Parent))
	le.PutUint32(b[8:], uint32(r.MaxPriority))
	le.PutUint32(b[12:], uint32(r.Quantum))
	le.PutUint32(b[16:], uint32(r.CPU))
	le.PutUint32(b[20:], uint32(r.Nice))
	b[24] = r.Hops
}

// Reply names the scheduler that ended up responsible and the parameters it applied.
type Reply struct {
	Scheduler endpoint.Endpoint
	Priority  int32
	Quantum   int32
}

func (Reply) Kind() message.Kind { return KindReply }

func (r Reply) Encode(b *[message.PayloadSize]byte) {
	le.PutUint32(b[0:], uint32(r.Scheduler))
	le.PutUint32(b[4:], uint32(r.Priority))
	le.PutUint32(b[8:], uint32(r.Quantum))
}

func init() {
	message.Register(KindRequest, "sched_request", func(b [message.PayloadSize]byte) (message.Payload, error) {
		return Request{
			Schedulee:   endpoint.Endpoint(int32(le.Uint32(b[0:]))),
			Parent:      endpoint.Endpoint(int32(le.Uint32(b[4:]))),
			MaxPriority: int32(le.Uint32(b[8:])),
			Quantum:     int32(le.Uint32(b[12:])),
			CPU:         int32(le.Uint32(b[16:])),
			Nice:        int32(le.Uint32(b[20:])),
			Hops:        b[24],
		}, nil
	})
	message.Register(KindReply, "sched_reply", func(b [message.PayloadSize]byte) (message.Payload, error) {
		return Reply{
			Scheduler: endpoint.Endpoint(int32(le.Uint32(b[0:]))),
			Priority:  int32(le.Uint32(b[4:])),
			Quantum:   int32(le.Uint32(b[8:])),
		}, nil
	})
}

// TypeName returns a label for a scheduling request type.
func TypeName(t message.Type) string {
	switch t {
	case SchedulingStart:
		return "start"
	case SchedulingInherit:
		return "inherit"
	case SchedulingStop:
		return "stop"
	case SchedulingSetNice:
		return "nice"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

// statusReply builds a reply message whose type carries the status of err.
func statusReply(err error, r Reply) message.Message {
	return message.New(message.Type(errno.Code(err)), r)
}

// parseReply checks the status of a reply and extracts its payload.
func parseReply(m message.Message) (Reply, error) {
	if err := errno.FromCode(int32(m.Type)); err != nil {
		return Reply{}, err
	}
	r, ok := m.Payload.(Reply)
	if !ok {
		return Reply{}, fmt.Errorf("scheduler reply carries %s: %w", message.KindName(m.Kind()), errno.ErrBadMessage)
	}
	return r, nil
}
