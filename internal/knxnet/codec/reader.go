package codec

import (
	"encoding/binary"
	"fmt"
)

// reader is a byte cursor over a decode buffer.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) need(n int, what string) error {
	if r.remaining() < n {
		return fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrTruncatedBuffer, what, n, r.pos, r.remaining())
	}
	return nil
}

func (r *reader) uint8(what string) (uint8, error) {
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uint16(what string) (uint16, error) {
	if err := r.need(2, what); err != nil { //nolint:mnd // 16-bit field
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int, what string) ([]byte, error) {
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}
