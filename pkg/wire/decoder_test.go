package wire

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_WholeMessage(t *testing.T) {
	m := NewMessageBuilder(3, 2).PutUint(7).Build()

	d := NewDecoder()
	d.Push(m.Data, nil)

	got, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(3), got.ObjectID)
	assert.Equal(t, uint16(2), got.Opcode)
	assert.Equal(t, m.Data, got.Data)

	got, err = d.Next()
	require.NoError(t, err)
	assert.Nil(t, got, "no more buffered messages")
}

func TestDecoder_PartialResumes(t *testing.T) {
	m := NewMessageBuilder(1, 0).PutUint(42).PutString("hello").Build()

	d := NewDecoder()
	for i := 0; i < len(m.Data); i++ {
		got, err := d.Next()
		require.NoError(t, err)
		require.Nil(t, got, "must not emit before byte %d of %d", i, len(m.Data))
		d.Push(m.Data[i:i+1], nil)
	}

	got, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Data, got.Data)
}

func TestDecoder_MultipleBuffered(t *testing.T) {
	a := NewMessageBuilder(1, 0).Build()
	b := NewMessageBuilder(2, 1).PutInt(-5).Build()

	d := NewDecoder()
	d.Push(append(append([]byte{}, a.Data...), b.Data...), nil)

	first, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, uint32(1), first.ObjectID)

	second, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, uint32(2), second.ObjectID)
}

func TestDecoder_SizeTooSmall(t *testing.T) {
	// Header declaring size=7: below the 8-byte header itself.
	data := []byte{1, 0, 0, 0, 0, 0, 7, 0}

	d := NewDecoder()
	d.Push(data, nil)

	_, err := d.Next()
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestDecoder_SizeTooLarge(t *testing.T) {
	data := make([]byte, HeaderSize)
	byteOrder.PutUint32(data[0:4], 1)
	byteOrder.PutUint16(data[4:6], 0)
	byteOrder.PutUint16(data[6:8], MaxMessageSize+4)

	d := NewDecoder()
	d.Push(data, nil)

	_, err := d.Next()
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestDecoder_EOF(t *testing.T) {
	d := NewDecoder()
	d.PushEOF()

	_, err := d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_EOFMidMessage(t *testing.T) {
	m := NewMessageBuilder(1, 0).PutUint(1).Build()

	d := NewDecoder()
	d.Push(m.Data[:len(m.Data)-2], nil)
	d.PushEOF()

	_, err := d.Next()
	require.ErrorIs(t, err, ErrTruncatedStream)
}

func TestDecoder_FdQueueOrder(t *testing.T) {
	d := NewDecoder()
	d.Push(nil, []int{10, 11})
	d.Push(nil, []int{12})

	assert.Equal(t, 3, d.PendingFds())
	for _, want := range []int{10, 11, 12} {
		fd, ok := d.TakeFd()
		require.True(t, ok)
		assert.Equal(t, want, fd)
	}
	_, ok := d.TakeFd()
	assert.False(t, ok)
}
