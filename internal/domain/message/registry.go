package message

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Kind identifies a payload variant.
type Kind uint16

// Payload is one variant of the message payload union.
type Payload interface {
	Kind() Kind
	// Encode writes the payload into the fixed block. Unused bytes must stay zero.
	Encode(block *[PayloadSize]byte)
}

// Decoder rebuilds a payload of one kind from its block.
type Decoder func(block [PayloadSize]byte) (Payload, error)

type registration struct {
	name   string
	decode Decoder
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]registration{}
)

// Register adds a payload variant. It panics if kind is already taken; call it from init.
func Register(kind Kind, name string, decode Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if prev, ok := registry[kind]; ok {
		panic(fmt.Sprintf("message: kind %d registered twice (%s, %s)", kind, prev.name, name))
	}
	registry[kind] = registration{name: name, decode: decode}
}

// Registered reports whether kind has a decoder.
func Registered(kind Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}

// KindName returns the registered name of kind.
func KindName(kind Kind) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if r, ok := registry[kind]; ok {
		return r.name
	}
	return fmt.Sprintf("kind(%d)", kind)
}

func decodePayload(kind Kind, block [PayloadSize]byte) (Payload, error) {
	registryMu.RLock()
	r, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payload kind %d: %w", kind, errno.ErrBadMessage)
	}
	return r.decode(block)
}
