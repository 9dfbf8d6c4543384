// Package borsh implements the little-endian, length-prefixed encoding used
// for records, instruction arguments and events.
//
// Integers are fixed-width little-endian, strings and byte vectors carry a
// u32 length prefix, sequences carry a u32 element count.
package borsh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when the input ends before a field is complete.
var ErrShortBuffer = errors.New("buffer too short")

// Writer appends encoded fields to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// Bool writes 1 for true and 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// I64 writes a little-endian int64.
func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

// Fixed writes raw bytes with no prefix.
func (w *Writer) Fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// String writes a u32 length prefix followed by the bytes of s.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Strings writes a u32 count followed by each string.
func (w *Writer) Strings(ss []string) {
	w.U32(uint32(len(ss)))
	for _, s := range ss {
		w.String(s)
	}
}

// U64s writes a u32 count followed by each uint64.
func (w *Writer) U64s(vs []uint64) {
	w.U32(uint32(len(vs)))
	for _, v := range vs {
		w.U64(v)
	}
}

// Reader decodes fields from a byte slice.
// The first error is sticky: later reads return zero values and Err reports it.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// take returns the next n bytes or records ErrShortBuffer.
func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d", ErrShortBuffer, field, n, r.off, r.Remaining())
		return nil
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b
}

// U8 reads a single byte.
func (r *Reader) U8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a byte and reports an error unless it is 0 or 1.
func (r *Reader) Bool() bool {
	v := r.U8()
	if r.err == nil && v > 1 {
		r.err = fmt.Errorf("invalid bool byte %d at offset %d", v, r.off-1)
	}
	return v == 1
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.take(4, "u32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian int64.
func (r *Reader) I64() int64 {
	return int64(r.U64())
}

// Fixed reads n raw bytes into dst.
func (r *Reader) Fixed(dst []byte) {
	b := r.take(len(dst), "fixed")
	if b != nil {
		copy(dst, b)
	}
}

// String reads a u32 length prefix and at most maxLen bytes.
func (r *Reader) String(maxLen int) string {
	n := r.U32()
	if r.err != nil {
		return ""
	}

	if int64(n) > int64(maxLen) {
		r.err = fmt.Errorf("string length %d exceeds %d", n, maxLen)
		return ""
	}

	b := r.take(int(n), "string")
	if b == nil {
		return ""
	}

	return string(b)
}

// Strings reads a u32 count (at most maxCount) of strings of at most maxLen bytes.
func (r *Reader) Strings(maxCount, maxLen int) []string {
	n := r.count(maxCount)
	if r.err != nil {
		return nil
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.String(maxLen))
	}

	if r.err != nil {
		return nil
	}

	return out
}

// U64s reads a u32 count (at most maxCount) of uint64 values.
func (r *Reader) U64s(maxCount int) []uint64 {
	n := r.count(maxCount)
	if r.err != nil {
		return nil
	}

	out := make([]uint64, n)
	for i := range out {
		out[i] = r.U64()
	}

	if r.err != nil {
		return nil
	}

	return out
}

// count reads a sequence length and bounds it.
func (r *Reader) count(maxCount int) int {
	n := r.U32()
	if r.err != nil {
		return 0
	}

	if int64(n) > int64(maxCount) {
		r.err = fmt.Errorf("sequence length %d exceeds %d", n, maxCount)
		return 0
	}

	return int(n)
}
