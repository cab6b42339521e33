package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned when a message payload ends before all of its
// declared fields could be read.
var ErrShortRead = errors.New("wal: short read")

// Reader is a bounds-checked cursor over a single replication message payload.
// All accessors read fields in wire order and advance the cursor; on overrun
// they return an error wrapping ErrShortRead so the caller can abort the
// batch instead of misparsing the stream.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader over the given payload.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Pos returns the current cursor position.
func (r *Reader) Pos() int {
	return r.pos
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, fmt.Errorf("%w: need 1 byte at offset %d", ErrShortRead, r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Uint16 reads a big-endian unsigned 16-bit integer.
func (r *Reader) Uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes at offset %d", ErrShortRead, r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a big-endian unsigned 32-bit integer.
func (r *Reader) Uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes at offset %d", ErrShortRead, r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 reads a big-endian unsigned 64-bit integer.
func (r *Reader) Uint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, fmt.Errorf("%w: need 8 bytes at offset %d", ErrShortRead, r.pos)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// String reads a null-terminated string.
func (r *Reader) String() (string, error) {
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrShortRead, r.pos)
	}
	s := string(r.buf[r.pos : r.pos+idx])
	r.pos += idx + 1
	return s, nil
}

// Bytes reads exactly n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("wal: invalid length %d at offset %d", n, r.pos)
	}
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
