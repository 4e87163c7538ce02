package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// tlvTypeOfID matches Lwm2mTLV's TypeOfID byte values.
const (
	tlvTypeObjectInstance  byte = 0
	tlvTypeResourceInst    byte = 1
	tlvTypeMultipleResouce byte = 2
	tlvTypeResource        byte = 3
)

// tlvElement is the adapted Lwm2mTLV struct: Marshal/Unmarshal unchanged
// in shape from the teacher, TotalLength dropped (unused outside the
// teacher's own encoder, which this package does not reuse verbatim).
type tlvElement struct {
	TypeOfID byte
	ID       uint16
	Value    []byte
	Contents []*tlvElement
}

func (t *tlvElement) marshal() []byte {
	var inner []byte
	if t.Contents != nil {
		for _, c := range t.Contents {
			inner = append(inner, c.marshal()...)
		}
	} else {
		inner = t.Value
	}
	length := uint32(len(inner))

	ret := make([]byte, 1)
	ret[0] = t.TypeOfID << 6
	if t.ID <= 0xFF {
		ret = append(ret, byte(t.ID))
	} else {
		ret[0] += 1 << 5
		ret = append(ret, byte(t.ID>>8), byte(t.ID&0x00FF))
	}
	switch {
	case length <= 0x07:
		ret[0] += byte(length)
	case length <= 0xFF:
		ret[0] += 1 << 3
		ret = append(ret, byte(length))
	case length <= 0xFFFF:
		ret[0] += 2 << 3
		ret = append(ret, byte(length>>8), byte(length&0x00FF))
	default:
		ret[0] += 3 << 3
		ret = append(ret, byte(length>>16), byte((length>>8)&0x00FF), byte(length&0x00FF))
	}
	ret = append(ret, inner...)
	return ret
}

// unmarshalTLV parses one TLV element (and, for group types, its nested
// children) from raw, returning bytes consumed or -1 on malformed input.
func unmarshalTLV(raw []byte) (*tlvElement, int) {
	length := len(raw)
	if length < 1 {
		return nil, -1
	}
	t := &tlvElement{}
	t.TypeOfID = (raw[0] >> 6) & 0x03
	idx := 1

	if (raw[0]>>5)&0x01 == 0 {
		if length < idx+1 {
			return nil, -1
		}
		t.ID = uint16(raw[idx])
		idx++
	} else {
		if length < idx+2 {
			return nil, -1
		}
		t.ID = binary.BigEndian.Uint16(raw[idx : idx+2])
		idx += 2
	}

	var valueLen uint32
	switch (raw[0] >> 3) & 0x03 {
	case 0:
		valueLen = uint32(raw[0] & 0x07)
	case 1:
		if length < idx+1 {
			return nil, -1
		}
		valueLen = uint32(raw[idx])
		idx++
	case 2:
		if length < idx+2 {
			return nil, -1
		}
		valueLen = uint32(binary.BigEndian.Uint16(raw[idx : idx+2]))
		idx += 2
	case 3:
		if length < idx+3 {
			return nil, -1
		}
		valueLen = binary.BigEndian.Uint32(append([]byte{0}, raw[idx:idx+3]...))
		idx += 3
	}
	if length < idx+int(valueLen) {
		return nil, -1
	}
	inner := raw[idx : idx+int(valueLen)]
	idx += int(valueLen)

	if t.TypeOfID == tlvTypeObjectInstance || t.TypeOfID == tlvTypeMultipleResouce {
		for off := 0; off < len(inner); {
			child, n := unmarshalTLV(inner[off:])
			if n < 0 {
				return nil, -1
			}
			t.Contents = append(t.Contents, child)
			off += n
		}
	} else {
		t.Value = append([]byte(nil), inner...)
	}
	return t, idx
}

func bytesFromValue(v model.Value) []byte {
	switch v.Type {
	case model.TypeString:
		return []byte(v.String())
	case model.TypeOpaque:
		return v.Opaque()
	case model.TypeInteger, model.TypeTime:
		n := v.Integer()
		if v.Type == model.TypeTime {
			n = v.Time()
		}
		switch {
		case n < 1<<7 && n >= -(1<<7):
			return []byte{byte(n)}
		case n < 1<<15 && n >= -(1<<15):
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, uint16(n))
			return buf
		case n < 1<<31 && n >= -(1<<31):
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(n))
			return buf
		default:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(n))
			return buf
		}
	case model.TypeFloat:
		f := v.Float()
		if f32 := float32(f); float64(f32) == f {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, math.Float32bits(f32))
			return buf
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf
	case model.TypeBoolean:
		if v.Boolean() {
			return []byte{1}
		}
		return []byte{0}
	case model.TypeObjectLink:
		l := v.Link()
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], l.ObjectID)
		binary.BigEndian.PutUint16(buf[2:4], l.InstanceID)
		return buf
	default:
		return nil
	}
}

func valueFromTLVBytes(t model.ResourceType, buf []byte) (model.Value, error) {
	switch t {
	case model.TypeString:
		return model.NewString(string(buf)), nil
	case model.TypeOpaque:
		return model.NewOpaque(buf), nil
	case model.TypeInteger, model.TypeTime:
		var n int64
		switch len(buf) {
		case 1:
			n = int64(int8(buf[0]))
		case 2:
			n = int64(int16(binary.BigEndian.Uint16(buf)))
		case 4:
			n = int64(int32(binary.BigEndian.Uint32(buf)))
		case 8:
			n = int64(binary.BigEndian.Uint64(buf))
		default:
			return model.Value{}, fmt.Errorf("codec: bad integer TLV width %d", len(buf))
		}
		if t == model.TypeTime {
			return model.NewTime(n), nil
		}
		return model.NewInteger(n), nil
	case model.TypeFloat:
		switch len(buf) {
		case 4:
			return model.NewFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))), nil
		case 8:
			return model.NewFloat(math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
		default:
			return model.Value{}, fmt.Errorf("codec: bad float TLV width %d", len(buf))
		}
	case model.TypeBoolean:
		if len(buf) < 1 {
			return model.Value{}, fmt.Errorf("codec: empty boolean TLV")
		}
		return model.NewBoolean(buf[0] != 0), nil
	case model.TypeObjectLink:
		if len(buf) < 4 {
			return model.Value{}, fmt.Errorf("codec: short objlnk TLV")
		}
		return model.NewObjectLink(model.ObjectLink{
			ObjectID:   binary.BigEndian.Uint16(buf[0:2]),
			InstanceID: binary.BigEndian.Uint16(buf[2:4]),
		}), nil
	default:
		return model.Value{Type: model.TypeNone}, nil
	}
}

// encodeTLV builds a (possibly nested) TLV document for paths relative
// to base's depth, per §4.C's "Groups nested by type byte" note.
func encodeTLV(base model.Path, paths []model.Path, src ValueSource) ([]byte, error) {
	depth := base.Depth()
	switch depth {
	case 1, 2:
		byInstance := map[uint16][]model.Path{}
		var instOrder []uint16
		for _, p := range paths {
			iid := uint16(p.InstanceID)
			if _, ok := byInstance[iid]; !ok {
				instOrder = append(instOrder, iid)
			}
			byInstance[iid] = append(byInstance[iid], p)
		}
		sort.Slice(instOrder, func(i, j int) bool { return instOrder[i] < instOrder[j] })

		if depth == 2 {
			resourceElems, err := encodeResourceGroup(paths, src)
			if err != nil {
				return nil, err
			}
			var out []byte
			for _, e := range resourceElems {
				out = append(out, e.marshal()...)
			}
			return out, nil
		}
		var out []byte
		for _, iid := range instOrder {
			elems, err := encodeResourceGroup(byInstance[iid], src)
			if err != nil {
				return nil, err
			}
			out = append(out, (&tlvElement{TypeOfID: tlvTypeObjectInstance, ID: iid, Contents: elems}).marshal()...)
		}
		return out, nil
	case 3:
		elems, err := encodeResourceGroup(paths, src)
		if err != nil {
			return nil, err
		}
		var out []byte
		for _, e := range elems {
			out = append(out, e.marshal()...)
		}
		return out, nil
	default: // depth 4: single resource-instance value
		if len(paths) != 1 {
			return nil, lwm2merr.New(lwm2merr.BadRequest, "tlv: expected exactly one resource-instance value")
		}
		v, err := src.Value(paths[0])
		if err != nil {
			return nil, err
		}
		e := &tlvElement{TypeOfID: tlvTypeResourceInst, ID: uint16(paths[0].ResourceInstance), Value: bytesFromValue(v)}
		return e.marshal(), nil
	}
}

// encodeResourceGroup groups paths by resource id, emitting a Resource
// element (single value) or a Multiple-Resource element (nested
// Resource-Instance children) per resource.
func encodeResourceGroup(paths []model.Path, src ValueSource) ([]*tlvElement, error) {
	byResource := map[uint16][]model.Path{}
	var order []uint16
	for _, p := range paths {
		rid := uint16(p.ResourceID)
		if _, ok := byResource[rid]; !ok {
			order = append(order, rid)
		}
		byResource[rid] = append(byResource[rid], p)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var out []*tlvElement
	for _, rid := range order {
		group := byResource[rid]
		sort.Slice(group, func(i, j int) bool { return group[i].ResourceInstance < group[j].ResourceInstance })
		if len(group) == 1 && group[0].ResourceInstance == model.Invalid {
			v, err := src.Value(group[0])
			if err != nil {
				return nil, err
			}
			out = append(out, &tlvElement{TypeOfID: tlvTypeResource, ID: rid, Value: bytesFromValue(v)})
			continue
		}
		var children []*tlvElement
		for _, p := range group {
			v, err := src.Value(p)
			if err != nil {
				return nil, err
			}
			idx := p.ResourceInstance
			if idx == model.Invalid {
				idx = 0
			}
			children = append(children, &tlvElement{TypeOfID: tlvTypeResourceInst, ID: uint16(idx), Value: bytesFromValue(v)})
		}
		out = append(out, &tlvElement{TypeOfID: tlvTypeMultipleResouce, ID: rid, Contents: children})
	}
	return out, nil
}

// decodeTLV parses a TLV document relative to base into flat leaves,
// resolving each leaf's declared type via types.
func decodeTLV(base model.Path, body []byte, types TypeSource) ([]Node, error) {
	var elems []*tlvElement
	for off := 0; off < len(body); {
		e, n := unmarshalTLV(body[off:])
		if n < 0 {
			return nil, lwm2merr.New(lwm2merr.BadRequest, "tlv: malformed document")
		}
		elems = append(elems, e)
		off += n
	}

	var leaves []Node
	var walk func(e *tlvElement, p model.Path) error
	walk = func(e *tlvElement, p model.Path) error {
		switch e.TypeOfID {
		case tlvTypeObjectInstance:
			ip := model.NewInstancePath(uint16(p.ObjectID), e.ID)
			for _, c := range e.Contents {
				if err := walk(c, ip); err != nil {
					return err
				}
			}
		case tlvTypeMultipleResouce:
			rp := model.NewResourcePath(uint16(p.ObjectID), uint16(p.InstanceID), e.ID)
			for _, c := range e.Contents {
				if err := walk(c, rp); err != nil {
					return err
				}
			}
		case tlvTypeResource:
			t, ok := types.ResourceType(uint16(p.ObjectID), e.ID)
			if !ok {
				return lwm2merr.Newf(lwm2merr.NotFound, "tlv: resource %d/%d not defined", p.ObjectID, e.ID)
			}
			v, err := valueFromTLVBytes(t, e.Value)
			if err != nil {
				return lwm2merr.New(lwm2merr.BadRequest, err.Error())
			}
			leaves = append(leaves, Node{Path: model.NewResourcePath(uint16(p.ObjectID), uint16(p.InstanceID), e.ID), Value: v})
		case tlvTypeResourceInst:
			t, ok := types.ResourceType(uint16(p.ObjectID), uint16(p.ResourceID))
			if !ok {
				return lwm2merr.Newf(lwm2merr.NotFound, "tlv: resource %d/%d not defined", p.ObjectID, p.ResourceID)
			}
			v, err := valueFromTLVBytes(t, e.Value)
			if err != nil {
				return lwm2merr.New(lwm2merr.BadRequest, err.Error())
			}
			leaves = append(leaves, Node{Path: model.NewResourceInstancePath(uint16(p.ObjectID), uint16(p.InstanceID), uint16(p.ResourceID), e.ID), Value: v})
		}
		return nil
	}

	start := base
	if base.Depth() < 3 {
		// resource elements at this level carry their own resource id
	}
	for _, e := range elems {
		switch base.Depth() {
		case 1:
			if err := walk(e, start); err != nil {
				return nil, err
			}
		case 2:
			if err := walk(e, start); err != nil {
				return nil, err
			}
		case 3:
			rp := start
			if e.TypeOfID == tlvTypeResourceInst {
				if err := walk(e, model.NewResourcePath(uint16(rp.ObjectID), uint16(rp.InstanceID), uint16(rp.ResourceID))); err != nil {
					return nil, err
				}
			} else {
				if err := walk(e, rp); err != nil {
					return nil, err
				}
			}
		}
	}
	return leaves, nil
}
