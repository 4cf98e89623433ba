// Package endpoint defines process endpoints, the only way processes are named in IPC.
//
// A process endpoint packs a slot index and a generation number:
//
//	endpoint = generation*GenerationSize + slot
//
// When a slot is recycled its generation is bumped, so a stale endpoint held by another
// process never resolves to the new occupant. Kernel services use small negative values and a
// few magic values stand for "any", "none" and "self".
package endpoint

import "fmt"

// Endpoint identifies a live process or a kernel service.
type Endpoint int32

// GenerationSize is the number of slots covered by one generation step.
const GenerationSize = 0x8000

// MaxSlots bounds the process table so that no (generation, slot) pair collides with
// None, Any or Self.
const MaxSlots = 0x400

// MaxGeneration is the last generation before numbering wraps back to 1.
const MaxGeneration = 0xffff

const (
	AsyncM Endpoint = -5
	Idle   Endpoint = -4
	Clock  Endpoint = -3
	System Endpoint = -2
	Kernel Endpoint = -1

	None Endpoint = 0x6ace
	Any  Endpoint = 0x7ace
	Self Endpoint = 0x8ace
)

// Make builds the endpoint for slot at generation gen.
func Make(gen, slot int) Endpoint {
	return Endpoint(gen*GenerationSize + slot)
}

// NextGeneration returns the generation that follows gen.
func NextGeneration(gen int) int {
	if gen >= MaxGeneration {
		return 1
	}
	return gen + 1
}

// Slot returns the process slot encoded in e.
func (e Endpoint) Slot() int {
	return int(e) % GenerationSize
}

// Generation returns the generation encoded in e.
func (e Endpoint) Generation() int {
	return int(e) / GenerationSize
}

// IsKernel reports whether e names a kernel service.
func (e Endpoint) IsKernel() bool {
	return e >= AsyncM && e <= Kernel
}

// IsSpecial reports whether e is one of Any, None or Self.
func (e Endpoint) IsSpecial() bool {
	return e == Any || e == None || e == Self
}

// IsProcess reports whether e can name a user or system process.
func (e Endpoint) IsProcess() bool {
	return e >= 0 && !e.IsSpecial()
}

func (e Endpoint) String() string {
	switch e {
	case AsyncM:
		return "ASYNCM"
	case Idle:
		return "IDLE"
	case Clock:
		return "CLOCK"
	case System:
		return "SYSTEM"
	case Kernel:
		return "KERNEL"
	case None:
		return "NONE"
	case Any:
		return "ANY"
	case Self:
		return "SELF"
	}
	if e < 0 {
		return fmt.Sprintf("ep(%d)", int32(e))
	}
	return fmt.Sprintf("%d/%d", e.Slot(), e.Generation())
}
