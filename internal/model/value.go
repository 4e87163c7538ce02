package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is the tagged-union resource value the codec and store pass
// around, replacing the source's void*+length+enum triple (DESIGN NOTES
// §9) with a Go sum type expressed as a struct-with-tag.
type Value struct {
	Type ResourceType

	str     string
	opaque  []byte
	integer int64
	float   float64
	boolean bool
	tstamp  int64
	link    ObjectLink
}

func NewString(v string) Value       { return Value{Type: TypeString, str: v} }
func NewOpaque(v []byte) Value       { return Value{Type: TypeOpaque, opaque: append([]byte(nil), v...)} }
func NewInteger(v int64) Value       { return Value{Type: TypeInteger, integer: v} }
func NewFloat(v float64) Value       { return Value{Type: TypeFloat, float: v} }
func NewBoolean(v bool) Value        { return Value{Type: TypeBoolean, boolean: v} }
func NewTime(v int64) Value          { return Value{Type: TypeTime, tstamp: v} }
func NewObjectLink(v ObjectLink) Value { return Value{Type: TypeObjectLink, link: v} }

func (v Value) String() string        { return v.str }
func (v Value) Opaque() []byte        { return v.opaque }
func (v Value) Integer() int64        { return v.integer }
func (v Value) Float() float64        { return v.float }
func (v Value) Boolean() bool         { return v.boolean }
func (v Value) Time() int64           { return v.tstamp }
func (v Value) Link() ObjectLink      { return v.link }

// ZeroValue returns the type-specific zero used by allocSensibleDefault
// when no default-value subtree is configured (§4.A).
func ZeroValue(t ResourceType) Value {
	switch t {
	case TypeString:
		return NewString("")
	case TypeOpaque:
		return NewOpaque(nil)
	case TypeInteger:
		return NewInteger(0)
	case TypeFloat:
		return NewFloat(0)
	case TypeBoolean:
		return NewBoolean(false)
	case TypeTime:
		return NewTime(0)
	case TypeObjectLink:
		return NewObjectLink(ObjectLink{0, 0})
	default:
		return Value{Type: TypeNone}
	}
}

// Bytes encodes a Value into the fixed-width storage form used
// internally by the object store. Numeric values are little-endian on
// every host, not in the host's native byte order. Strings get a
// trailing NUL not counted in reported length.
func (v Value) Bytes() []byte {
	switch v.Type {
	case TypeString:
		return append([]byte(v.str), 0)
	case TypeOpaque:
		return v.opaque
	case TypeInteger, TypeTime:
		n := v.integer
		if v.Type == TypeTime {
			n = v.tstamp
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(n))
		return buf
	case TypeFloat:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.float))
		return buf
	case TypeBoolean:
		if v.boolean {
			return []byte{1}
		}
		return []byte{0}
	case TypeObjectLink:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:2], v.link.ObjectID)
		binary.LittleEndian.PutUint16(buf[2:4], v.link.InstanceID)
		return buf
	default:
		return nil
	}
}

// ValueFromBytes is the inverse of Bytes, reconstructing a typed Value
// from the store's internal representation.
func ValueFromBytes(t ResourceType, buf []byte) (Value, error) {
	switch t {
	case TypeString:
		s := string(buf)
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return NewString(s), nil
	case TypeOpaque:
		return NewOpaque(buf), nil
	case TypeInteger:
		if len(buf) < 8 {
			return Value{}, fmt.Errorf("model: short integer buffer (%d bytes)", len(buf))
		}
		return NewInteger(int64(binary.LittleEndian.Uint64(buf))), nil
	case TypeTime:
		if len(buf) < 8 {
			return Value{}, fmt.Errorf("model: short time buffer (%d bytes)", len(buf))
		}
		return NewTime(int64(binary.LittleEndian.Uint64(buf))), nil
	case TypeFloat:
		if len(buf) < 8 {
			return Value{}, fmt.Errorf("model: short float buffer (%d bytes)", len(buf))
		}
		return NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf))), nil
	case TypeBoolean:
		if len(buf) < 1 {
			return Value{}, fmt.Errorf("model: short boolean buffer")
		}
		return NewBoolean(buf[0] != 0), nil
	case TypeObjectLink:
		if len(buf) < 4 {
			return Value{}, fmt.Errorf("model: short objlnk buffer")
		}
		return NewObjectLink(ObjectLink{
			ObjectID:   binary.LittleEndian.Uint16(buf[0:2]),
			InstanceID: binary.LittleEndian.Uint16(buf[2:4]),
		}), nil
	default:
		return Value{Type: TypeNone}, nil
	}
}
