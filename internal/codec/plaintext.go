package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// TextFromValue renders v per §4.C's text/plain row: decimal for
// numerics, Base64 for opaque, "True"/"False" for boolean, "o:i" for
// ObjectLink. Exported for callers outside the codec's own Encode path
// that need the same text/plain conversion on a single already-resolved
// value — internal/ipc's Get/Set handlers and a file-backed resource
// handler's script I/O both do.
func TextFromValue(v model.Value) (string, error) {
	switch v.Type {
	case model.TypeString:
		return v.String(), nil
	case model.TypeInteger:
		return strconv.FormatInt(v.Integer(), 10), nil
	case model.TypeTime:
		return strconv.FormatInt(v.Time(), 10), nil
	case model.TypeFloat:
		prec := 17
		if f32 := float32(v.Float()); float64(f32) == v.Float() {
			prec = 9
		}
		return strconv.FormatFloat(v.Float(), 'g', prec, 64), nil
	case model.TypeBoolean:
		if v.Boolean() {
			return "True", nil
		}
		return "False", nil
	case model.TypeOpaque:
		return base64.StdEncoding.EncodeToString(v.Opaque()), nil
	case model.TypeObjectLink:
		l := v.Link()
		return fmt.Sprintf("%d:%d", l.ObjectID, l.InstanceID), nil
	default:
		return "", nil
	}
}

// ValueFromText is the inverse of TextFromValue, given the target
// resource's declared type (plain-text carries no type tag of its own).
func ValueFromText(t model.ResourceType, s string) (model.Value, error) {
	switch t {
	case model.TypeString:
		return model.NewString(s), nil
	case model.TypeInteger, model.TypeTime:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("codec: bad integer %q: %w", s, err)
		}
		if t == model.TypeTime {
			return model.NewTime(n), nil
		}
		return model.NewInteger(n), nil
	case model.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("codec: bad float %q: %w", s, err)
		}
		return model.NewFloat(f), nil
	case model.TypeBoolean:
		return model.NewBoolean(strings.EqualFold(s, "true")), nil
	case model.TypeOpaque:
		buf, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return model.Value{}, fmt.Errorf("codec: bad base64 opaque: %w", err)
		}
		return model.NewOpaque(buf), nil
	case model.TypeObjectLink:
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return model.Value{}, fmt.Errorf("codec: bad objlnk %q", s)
		}
		oid, err1 := strconv.ParseUint(parts[0], 10, 16)
		iid, err2 := strconv.ParseUint(parts[1], 10, 16)
		if err1 != nil || err2 != nil {
			return model.Value{}, fmt.Errorf("codec: bad objlnk %q", s)
		}
		return model.NewObjectLink(model.ObjectLink{ObjectID: uint16(oid), InstanceID: uint16(iid)}), nil
	default:
		return model.Value{Type: model.TypeNone}, nil
	}
}

func encodeText(base model.Path, paths []model.Path, src ValueSource) ([]byte, error) {
	if len(paths) != 1 {
		return nil, lwm2merr.New(lwm2merr.BadRequest, "plain-text supports exactly one resource-instance value")
	}
	v, err := src.Value(paths[0])
	if err != nil {
		return nil, err
	}
	s, err := TextFromValue(v)
	if err != nil {
		return nil, lwm2merr.New(lwm2merr.InternalError, err.Error())
	}
	return []byte(s), nil
}

func decodeText(base model.Path, body []byte, types TypeSource) ([]Node, error) {
	if base.Depth() != 3 && base.Depth() != 4 {
		return nil, lwm2merr.New(lwm2merr.BadRequest, "plain-text write requires a resource-level target")
	}
	t, ok := types.ResourceType(uint16(base.ObjectID), uint16(base.ResourceID))
	if !ok {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", base.ObjectID, base.ResourceID)
	}
	v, err := ValueFromText(t, string(body))
	if err != nil {
		return nil, lwm2merr.New(lwm2merr.BadRequest, err.Error())
	}
	p := base
	if p.Depth() == 3 {
		p = model.NewResourceInstancePath(uint16(p.ObjectID), uint16(p.InstanceID), uint16(p.ResourceID), 0)
	}
	return []Node{{Path: p, Value: v}}, nil
}

func encodeOpaque(base model.Path, paths []model.Path, src ValueSource) ([]byte, error) {
	if len(paths) != 1 {
		return nil, lwm2merr.New(lwm2merr.BadRequest, "octet-stream supports exactly one resource-instance value")
	}
	v, err := src.Value(paths[0])
	if err != nil {
		return nil, err
	}
	if v.Type != model.TypeOpaque {
		return nil, lwm2merr.New(lwm2merr.BadRequest, "octet-stream accept type requires an Opaque resource")
	}
	return v.Opaque(), nil
}

func decodeOpaque(base model.Path, body []byte) ([]Node, error) {
	if base.Depth() != 3 && base.Depth() != 4 {
		return nil, lwm2merr.New(lwm2merr.BadRequest, "octet-stream write requires a resource-level target")
	}
	p := base
	if p.Depth() == 3 {
		p = model.NewResourceInstancePath(uint16(p.ObjectID), uint16(p.InstanceID), uint16(p.ResourceID), 0)
	}
	return []Node{{Path: p, Value: model.NewOpaque(body)}}, nil
}
