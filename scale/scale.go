// Package scale implements the subset of the SCALE codec used on the signer wire
// protocol and in sealed registry blobs: u8, bool, fixed-size byte arrays, compact
// integers, length-prefixed byte vectors and strings.
package scale

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"unicode/utf8"
)

var (
	ErrUnexpectedEOF  = errors.New("scale: unexpected end of input")
	ErrTrailingBytes  = errors.New("scale: trailing bytes after value")
	ErrInvalidBool    = errors.New("scale: invalid bool byte")
	ErrNonCanonical   = errors.New("scale: non-canonical compact encoding")
	ErrCompactTooWide = errors.New("scale: compact integer exceeds 64 bits")
	ErrInvalidUTF8    = errors.New("scale: string is not valid utf8")
)

type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) WriteU8(v uint8) {
	e.buf = append(e.buf, v)
}

// WriteU64 appends v as a fixed-width little-endian u64.
func (e *Encoder) WriteU64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// WriteFixed appends b verbatim, as for a [u8; N] array.
func (e *Encoder) WriteFixed(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteCompact(v uint64) {
	switch {
	case v < 1<<6:
		e.buf = append(e.buf, byte(v<<2))
	case v < 1<<14:
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v<<2)|0b01)
	case v < 1<<30:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v<<2)|0b10)
	default:
		n := (bits.Len64(v) + 7) / 8
		if n < 4 {
			n = 4
		}
		e.buf = append(e.buf, byte((n-4)<<2)|0b11)
		for i := 0; i < n; i++ {
			e.buf = append(e.buf, byte(v>>(8*i)))
		}
	}
}

// WriteBytes appends a Vec<u8>: compact length followed by the bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteCompact(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) WriteString(s string) {
	e.WriteCompact(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Finish reports ErrTrailingBytes unless the whole input was consumed.
func (d *Decoder) Finish() error {
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d left", ErrTrailingBytes, d.Remaining())
	}
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrUnexpectedEOF
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) ReadU8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) ReadU64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b)
	}
}

// ReadFixed returns a copy of the next n bytes.
func (d *Decoder) ReadFixed(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) ReadCompact() (uint64, error) {
	first, err := d.ReadU8()
	if err != nil {
		return 0, err
	}

	switch first & 0b11 {
	case 0b00:
		return uint64(first >> 2), nil
	case 0b01:
		rest, err := d.take(1)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint16([]byte{first, rest[0]})) >> 2
		if v < 1<<6 {
			return 0, ErrNonCanonical
		}
		return v, nil
	case 0b10:
		rest, err := d.take(3)
		if err != nil {
			return 0, err
		}
		v := uint64(binary.LittleEndian.Uint32([]byte{first, rest[0], rest[1], rest[2]})) >> 2
		if v < 1<<14 {
			return 0, ErrNonCanonical
		}
		return v, nil
	default:
		n := int(first>>2) + 4
		if n > 8 {
			return 0, ErrCompactTooWide
		}
		raw, err := d.take(n)
		if err != nil {
			return 0, err
		}
		if raw[n-1] == 0 {
			return 0, ErrNonCanonical
		}
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(raw[i]) << (8 * i)
		}
		if v < 1<<30 {
			return 0, ErrNonCanonical
		}
		return v, nil
	}
}

// ReadLength reads a compact length prefix and checks it against the remaining input,
// assuming every element occupies at least minElemSize bytes.
func (d *Decoder) ReadLength(minElemSize int) (int, error) {
	n, err := d.ReadCompact()
	if err != nil {
		return 0, err
	}
	if minElemSize < 1 {
		minElemSize = 1
	}
	if n > uint64(d.Remaining()/minElemSize) {
		return 0, ErrUnexpectedEOF
	}
	return int(n), nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadLength(1)
	if err != nil {
		return nil, err
	}
	return d.ReadFixed(n)
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
