package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeRoundTrip(t *testing.T) {
	for _, tt := range []struct{ gen, slot int }{
		{0, 0}, {1, 7}, {42, MaxSlots - 1}, {MaxGeneration, 3},
	} {
		e := Make(tt.gen, tt.slot)
		assert.Equal(t, tt.slot, e.Slot())
		assert.Equal(t, tt.gen, e.Generation())
		assert.True(t, e.IsProcess())
		assert.False(t, e.IsSpecial())
	}
}

func TestGenerationsNeverCollideWithMagicValues(t *testing.T) {
	for _, gen := range []int{0, 1, 2} {
		for slot := 0; slot < MaxSlots; slot++ {
			e := Make(gen, slot)
			assert.False(t, e.IsSpecial(), "gen %d slot %d", gen, slot)
		}
	}
}

func TestNextGenerationWraps(t *testing.T) {
	assert.Equal(t, 2, NextGeneration(1))
	assert.Equal(t, 1, NextGeneration(MaxGeneration))
}

func TestKernelEndpoints(t *testing.T) {
	for _, e := range []Endpoint{Kernel, System, Clock, Idle, AsyncM} {
		assert.True(t, e.IsKernel())
		assert.False(t, e.IsProcess())
	}
	assert.False(t, Any.IsProcess())
	assert.Equal(t, "ANY", Any.String())
	assert.Equal(t, "3/2", Make(2, 3).String())
}
