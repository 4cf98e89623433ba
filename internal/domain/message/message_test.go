package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

type unregistered struct{}

func (unregistered) Kind() Kind                  { return 0xfff0 }
func (unregistered) Encode(*[PayloadSize]byte) {}

func TestEncodeDecodeKeepsHeader(t *testing.T) {
	m := Message{Source: endpoint.Make(3, 9), Type: -22, Payload: Transfer{
		Owner:  endpoint.Make(1, 4),
		Grant:  0x10002,
		Offset: 4096,
		Size:   512,
		Flags:  1,
	}}

	f, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, KindTransfer, f.Kind)

	got, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodedPayloadDoesNotAlias(t *testing.T) {
	var raw U8
	copy(raw[:], "payload")
	m := New(7, raw)

	f, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(f)
	require.NoError(t, err)

	raw[0] = 'X'
	assert.Equal(t, byte('p'), got.Payload.(U8)[0])
}

func TestEmptyPayloadDecodesToNil(t *testing.T) {
	f, err := Encode(New(1, nil))
	require.NoError(t, err)

	got, err := Decode(f)
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Equal(t, KindEmpty, got.Kind())
}

func TestUnregisteredKind(t *testing.T) {
	_, err := Encode(New(1, unregistered{}))
	assert.ErrorIs(t, err, errno.ErrBadMessage)

	_, err = Decode(Frame{Kind: 0xfff1})
	assert.ErrorIs(t, err, errno.ErrBadMessage)
}

func TestRegisterTwicePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(KindU8, "again", nil)
	})
}

func TestWordViews(t *testing.T) {
	for _, p := range []Payload{
		U16{1, 2, 0xffff},
		U32{1, 2, 0xffffffff},
		U64{1, 2, 1 << 63},
		Notification{Timestamp: 99},
	} {
		f, err := Encode(New(2, p))
		require.NoError(t, err)
		got, err := Decode(f)
		require.NoError(t, err)
		assert.Equal(t, p, got.Payload, KindName(p.Kind()))
	}
}
