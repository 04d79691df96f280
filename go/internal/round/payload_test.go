package round

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadPackedLayout(t *testing.T) {
	p := NewPayload(4)
	p.SeqNo = 0x01020304
	copy(p.Data, DefaultTag)

	buf := make([]byte, 8)
	n, err := p.MarshalTo(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x00, 0x04, 0x02}, buf)

	q := NewPayload(4)
	require.NoError(t, q.UnmarshalFrom(buf))
	assert.Equal(t, p, q)
}

func TestPayloadDefaultSize(t *testing.T) {
	assert.Equal(t, 113, NewPayload(DefaultPayloadDataLen).Len())
}

func TestPayloadShortBuffer(t *testing.T) {
	p := NewPayload(4)

	_, err := p.MarshalTo(make([]byte, 7))
	assert.ErrorIs(t, err, ErrShortPayload)
	assert.ErrorIs(t, p.UnmarshalFrom(make([]byte, 3)), ErrShortPayload)
}

func TestPayloadCloneIsDeep(t *testing.T) {
	p := NewPayload(2)
	c := p.Clone()
	c.Data[0] = 9
	assert.Zero(t, p.Data[0])
}
