// Package encoding holds the compact binary primitives used by the machine
// sync stream: unsigned varints, length-prefixed strings and flag bytes.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortStream is returned when a read runs past the end of the payload.
var ErrShortStream = errors.New("encoding: short stream")

// Writer appends values to an in-memory buffer.
type Writer struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
}

func (w *Writer) Uvarint(v uint64) {
	n := binary.PutUvarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

// Text writes len(s) as a varint followed by the raw bytes.
func (w *Writer) Text(s string) {
	w.Uvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader consumes values written by Writer. The first error sticks; later
// reads return zero values.
type Reader struct {
	raw []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{raw: b} }

func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.raw) - r.off }

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.raw[r.off:])
	if n == 0 {
		r.err = fmt.Errorf("%w: varint at %d", ErrShortStream, r.off)
		return 0
	}
	if n < 0 {
		r.err = fmt.Errorf("bad varint at %d", r.off)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Bool() bool {
	if r.err != nil {
		return false
	}
	if r.off >= len(r.raw) {
		r.err = fmt.Errorf("%w: flag at %d", ErrShortStream, r.off)
		return false
	}
	b := r.raw[r.off]
	r.off++
	return b != 0
}

func (r *Reader) Text() string {
	n := r.Uvarint()
	if r.err != nil {
		return ""
	}
	if uint64(r.Remaining()) < n {
		r.err = fmt.Errorf("%w: string of %d bytes at %d", ErrShortStream, n, r.off)
		return ""
	}
	s := string(r.raw[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}
