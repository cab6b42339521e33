package wal

import (
	"testing"

	"github.com/jackc/pgio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWireOrder(t *testing.T) {
	var buf []byte
	buf = append(buf, 'X')
	buf = pgio.AppendUint16(buf, 513)
	buf = pgio.AppendUint32(buf, 70000)
	buf = pgio.AppendUint64(buf, 1<<40)
	buf = append(buf, "hello"...)
	buf = append(buf, 0)
	buf = append(buf, 0xDE, 0xAD)

	r := NewReader(buf)

	b, err := r.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte('X'), b)

	u16, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(513), u16)

	u32, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(70000), u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	rest, err := r.Bytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, rest)

	assert.Equal(t, 0, r.Remaining())
	assert.Equal(t, len(buf), r.Pos())
}

func TestReaderShortReads(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		read func(r *Reader) error
	}{
		{"byte on empty", nil, func(r *Reader) error { _, err := r.Byte(); return err }},
		{"uint16 on one byte", []byte{1}, func(r *Reader) error { _, err := r.Uint16(); return err }},
		{"uint32 on three bytes", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.Uint32(); return err }},
		{"uint64 on seven bytes", make([]byte, 7), func(r *Reader) error { _, err := r.Uint64(); return err }},
		{"unterminated string", []byte("abc"), func(r *Reader) error { _, err := r.String(); return err }},
		{"bytes past end", []byte{1, 2}, func(r *Reader) error { _, err := r.Bytes(3); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.buf))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShortRead)
		})
	}
}

func TestReaderNegativeLength(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_, err := r.Bytes(-1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShortRead)
}

func TestReaderEmptyString(t *testing.T) {
	r := NewReader([]byte{0, 'x'})
	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "", s)
	assert.Equal(t, 1, r.Remaining())
}
