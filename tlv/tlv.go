// Package tlv implements the type-length-value encoding used by the
// container manifests and signatures.
//
// Every element starts with a header. The first header byte holds three
// flags and the type:
//
//	bit 7 (0x80)  TLV16 form: 13 bit type and 16 bit length
//	bit 6 (0x40)  non-critical: readers may skip the element if unknown
//	bit 5 (0x20)  forward: readers should keep the element when re-encoding
//	bits 4-0      type (TLV8), or the high 5 bits of the type (TLV16)
//
// A TLV8 element is [header][length:1][value] and can hold types up to 0x1f
// and values up to 255 bytes. A TLV16 element is
// [header][type low byte][length:2 big endian][value], with types up to
// 0x1fff and values up to 65535 bytes. The encoder always picks the shorter
// form that fits.
//
// Elements are either terminal (a string, an unsigned integer, an imprint or
// raw bytes) or composite, in which case the value is itself a sequence of
// elements. Which one is a matter of the structure being decoded; the wire
// format does not say.
package tlv

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	flagTLV16       = 0x80
	flagNonCritical = 0x40
	flagForward     = 0x20
	typeMask        = 0x1f

	// MaxType is the largest type id which can be encoded.
	MaxType = 0x1fff

	// MaxLength is the largest value length which can be encoded.
	MaxLength = 0xffff

	maxTLV8Type   = 0x1f
	maxTLV8Length = 0xff
)

var (
	// ErrMalformed means the bytes do not form a valid element, for example
	// because a header or value is truncated.
	ErrMalformed = errors.New("malformed tlv element")

	// ErrTooLarge means an element cannot be encoded since its type or
	// value length is out of range.
	ErrTooLarge = errors.New("tlv element too large")
)

// Element is a single decoded or to-be-encoded TLV element.
type Element struct {
	Type        uint16
	NonCritical bool
	Forward     bool
	Value       []byte
}

// Critical is true if a reader not knowing this element's type must reject
// the structure containing it.
func (e *Element) Critical() bool {
	return !e.NonCritical
}

// New returns an element with the given type and value.
func New(typ uint16, critical bool, value []byte) *Element {
	return &Element{Type: typ, NonCritical: !critical, Value: value}
}

// NewString returns a critical element holding a UTF-8 string.
func NewString(typ uint16, s string) *Element {
	return New(typ, true, []byte(s))
}

// NewUint returns a critical element holding v using the fewest big endian
// bytes. Zero is encoded as an empty value.
func NewUint(typ uint16, v uint64) *Element {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	i := 0
	for i < 8 && b[i] == 0 {
		i++
	}
	return New(typ, true, append([]byte(nil), b[i:]...))
}

// NewComposite returns a critical element whose value is the encoding of
// children, in order.
func NewComposite(typ uint16, children ...*Element) (*Element, error) {
	var buf bytes.Buffer
	for _, c := range children {
		if err := c.encode(&buf); err != nil {
			return nil, err
		}
	}
	return New(typ, true, buf.Bytes()), nil
}

// Encode returns the wire form of a single element.
func Encode(typ uint16, critical bool, value []byte) ([]byte, error) {
	return New(typ, critical, value).MarshalBinary()
}

// MarshalBinary returns the wire form of e.
func (e *Element) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := e.encode(&buf)
	return buf.Bytes(), err
}

// WriteTo writes the wire form of e to w.
func (e *Element) WriteTo(w io.Writer) (int64, error) {
	b, err := e.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func (e *Element) encode(buf *bytes.Buffer) error {
	if e.Type > MaxType {
		return errors.Wrapf(ErrTooLarge, "type 0x%x", e.Type)
	}
	if len(e.Value) > MaxLength {
		return errors.Wrapf(ErrTooLarge, "type 0x%x has %d bytes", e.Type, len(e.Value))
	}
	var hdr byte
	if e.NonCritical {
		hdr |= flagNonCritical
	}
	if e.Forward {
		hdr |= flagForward
	}
	if e.Type <= maxTLV8Type && len(e.Value) <= maxTLV8Length {
		buf.WriteByte(hdr | byte(e.Type))
		buf.WriteByte(byte(len(e.Value)))
	} else {
		buf.WriteByte(hdr | flagTLV16 | byte(e.Type>>8)&typeMask)
		buf.WriteByte(byte(e.Type))
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(e.Value)))
		buf.Write(l[:])
	}
	buf.Write(e.Value)
	return nil
}

// Decode parses the first element in b. It returns the element and the
// number of bytes consumed. The element's value aliases b.
func Decode(b []byte) (*Element, int, error) {
	if len(b) < 2 {
		return nil, 0, errors.Wrap(ErrMalformed, "truncated header")
	}
	e := &Element{
		NonCritical: b[0]&flagNonCritical != 0,
		Forward:     b[0]&flagForward != 0,
	}
	var length, off int
	if b[0]&flagTLV16 == 0 {
		e.Type = uint16(b[0] & typeMask)
		length = int(b[1])
		off = 2
	} else {
		if len(b) < 4 {
			return nil, 0, errors.Wrap(ErrMalformed, "truncated header")
		}
		e.Type = uint16(b[0]&typeMask)<<8 | uint16(b[1])
		length = int(binary.BigEndian.Uint16(b[2:4]))
		off = 4
	}
	if len(b)-off < length {
		return nil, 0, errors.Wrapf(ErrMalformed, "type 0x%x: value needs %d bytes, have %d",
			e.Type, length, len(b)-off)
	}
	e.Value = b[off : off+length]
	return e, off + length, nil
}

// DecodeAll parses b as a sequence of elements. Trailing bytes which do not
// form a complete element are an error.
func DecodeAll(b []byte) ([]*Element, error) {
	var result []*Element
	for len(b) > 0 {
		e, n, err := Decode(b)
		if err != nil {
			return result, err
		}
		result = append(result, e)
		b = b[n:]
	}
	return result, nil
}

// Children decodes the value of a composite element.
func (e *Element) Children() ([]*Element, error) {
	children, err := DecodeAll(e.Value)
	return children, errors.Wrapf(err, "children of type 0x%x", e.Type)
}

// Text returns the value as a UTF-8 string.
func (e *Element) Text() (string, error) {
	if !utf8.Valid(e.Value) {
		return "", errors.Wrapf(ErrMalformed, "type 0x%x: invalid utf-8", e.Type)
	}
	return string(e.Value), nil
}

// Uint returns the value as a big endian unsigned integer.
func (e *Element) Uint() (uint64, error) {
	if len(e.Value) > 8 {
		return 0, errors.Wrapf(ErrMalformed, "type 0x%x: integer of %d bytes", e.Type, len(e.Value))
	}
	var v uint64
	for _, c := range e.Value {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// ReadElement reads exactly one element from r.
func ReadElement(r io.Reader) (*Element, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrap(ErrMalformed, "truncated header")
	}
	var length int
	buf := hdr[:2]
	if hdr[0]&flagTLV16 == 0 {
		length = int(hdr[1])
	} else {
		if _, err := io.ReadFull(r, hdr[2:4]); err != nil {
			return nil, errors.Wrap(ErrMalformed, "truncated header")
		}
		length = int(binary.BigEndian.Uint16(hdr[2:4]))
		buf = hdr[:4]
	}
	b := make([]byte, len(buf)+length)
	copy(b, buf)
	if _, err := io.ReadFull(r, b[len(buf):]); err != nil {
		return nil, errors.Wrap(ErrMalformed, "truncated value")
	}
	e, _, err := Decode(b)
	return e, err
}
