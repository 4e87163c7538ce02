package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// omaJSONEntry mirrors one element of the OMA LWM2M JSON "e" array
// (OMA-TS-LightweightM2M §6.4.4): a relative name, plus exactly one of
// v (numeric), sv (string), bv (boolean) or ov (object-link as "o:i").
type omaJSONEntry struct {
	Name string   `json:"n"`
	V    *float64 `json:"v,omitempty"`
	SV   *string  `json:"sv,omitempty"`
	BV   *bool    `json:"bv,omitempty"`
	OV   *string  `json:"ov,omitempty"`
}

type omaJSONDoc struct {
	BaseName string         `json:"bn"`
	Entries  []omaJSONEntry `json:"e"`
}

func encodeJSON(base model.Path, paths []model.Path, src ValueSource) ([]byte, error) {
	doc := omaJSONDoc{BaseName: base.String()}
	for _, p := range paths {
		v, err := src.Value(p)
		if err != nil {
			return nil, err
		}
		entry := omaJSONEntry{Name: relativeName(base, p)}
		switch v.Type {
		case model.TypeString:
			s := v.String()
			entry.SV = &s
		case model.TypeOpaque:
			s := base64.StdEncoding.EncodeToString(v.Opaque())
			entry.SV = &s
		case model.TypeInteger:
			f := float64(v.Integer())
			entry.V = &f
		case model.TypeTime:
			f := float64(v.Time())
			entry.V = &f
		case model.TypeFloat:
			f := v.Float()
			entry.V = &f
		case model.TypeBoolean:
			b := v.Boolean()
			entry.BV = &b
		case model.TypeObjectLink:
			l := v.Link()
			s := fmt.Sprintf("%d:%d", l.ObjectID, l.InstanceID)
			entry.OV = &s
		}
		doc.Entries = append(doc.Entries, entry)
	}
	return json.Marshal(doc)
}

// relativeName renders p's path components below base, joined by "/",
// per OMA JSON's bn/e-name split (e.g. base "/3/0", leaf "/3/0/1" → "1").
func relativeName(base model.Path, p model.Path) string {
	var comps []string
	if base.InstanceID == model.Invalid && p.InstanceID != model.Invalid {
		comps = append(comps, strconv.Itoa(int(p.InstanceID)))
	}
	if base.ResourceID == model.Invalid && p.ResourceID != model.Invalid {
		comps = append(comps, strconv.Itoa(int(p.ResourceID)))
	}
	if base.ResourceInstance == model.Invalid && p.ResourceInstance != model.Invalid {
		comps = append(comps, strconv.Itoa(int(p.ResourceInstance)))
	}
	return strings.Join(comps, "/")
}

func decodeJSON(base model.Path, body []byte, types TypeSource) ([]Node, error) {
	var doc omaJSONDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, lwm2merr.Newf(lwm2merr.BadRequest, "json: %v", err)
	}

	root := base
	if doc.BaseName != "" {
		p, err := parseURIPath(doc.BaseName)
		if err == nil {
			root = p
		}
	}

	var leaves []Node
	for _, e := range doc.Entries {
		p, err := resolveRelative(root, e.Name)
		if err != nil {
			return nil, err
		}
		t, ok := types.ResourceType(uint16(p.ObjectID), uint16(p.ResourceID))
		if !ok {
			return nil, lwm2merr.Newf(lwm2merr.NotFound, "json: resource %d/%d not defined", p.ObjectID, p.ResourceID)
		}
		v, err := jsonEntryValue(t, e)
		if err != nil {
			return nil, lwm2merr.New(lwm2merr.BadRequest, err.Error())
		}
		if p.ResourceInstance == model.Invalid {
			p = model.NewResourceInstancePath(uint16(p.ObjectID), uint16(p.InstanceID), uint16(p.ResourceID), 0)
		}
		leaves = append(leaves, Node{Path: p, Value: v})
	}
	return leaves, nil
}

func resolveRelative(root model.Path, name string) (model.Path, error) {
	p := root
	if name == "" {
		return p, nil
	}
	for _, seg := range strings.Split(name, "/") {
		n, err := strconv.ParseUint(seg, 10, 16)
		if err != nil {
			return model.Path{}, lwm2merr.Newf(lwm2merr.BadRequest, "json: bad relative name segment %q", seg)
		}
		switch {
		case p.InstanceID == model.Invalid:
			p.InstanceID = int32(n)
		case p.ResourceID == model.Invalid:
			p.ResourceID = int32(n)
		case p.ResourceInstance == model.Invalid:
			p.ResourceInstance = int32(n)
		default:
			return model.Path{}, lwm2merr.Newf(lwm2merr.BadRequest, "json: relative name %q too deep", name)
		}
	}
	return p, nil
}

func jsonEntryValue(t model.ResourceType, e omaJSONEntry) (model.Value, error) {
	switch t {
	case model.TypeString:
		if e.SV == nil {
			return model.Value{}, fmt.Errorf("json: missing sv for string resource")
		}
		return model.NewString(*e.SV), nil
	case model.TypeOpaque:
		if e.SV == nil {
			return model.Value{}, fmt.Errorf("json: missing sv for opaque resource")
		}
		buf, err := base64.StdEncoding.DecodeString(*e.SV)
		if err != nil {
			return model.Value{}, fmt.Errorf("json: bad base64 opaque: %w", err)
		}
		return model.NewOpaque(buf), nil
	case model.TypeInteger:
		if e.V == nil {
			return model.Value{}, fmt.Errorf("json: missing v for integer resource")
		}
		return model.NewInteger(int64(*e.V)), nil
	case model.TypeTime:
		if e.V == nil {
			return model.Value{}, fmt.Errorf("json: missing v for time resource")
		}
		return model.NewTime(int64(*e.V)), nil
	case model.TypeFloat:
		if e.V == nil {
			return model.Value{}, fmt.Errorf("json: missing v for float resource")
		}
		return model.NewFloat(*e.V), nil
	case model.TypeBoolean:
		if e.BV == nil {
			return model.Value{}, fmt.Errorf("json: missing bv for boolean resource")
		}
		return model.NewBoolean(*e.BV), nil
	case model.TypeObjectLink:
		if e.OV == nil {
			return model.Value{}, fmt.Errorf("json: missing ov for objlnk resource")
		}
		parts := strings.SplitN(*e.OV, ":", 2)
		if len(parts) != 2 {
			return model.Value{}, fmt.Errorf("json: bad ov %q", *e.OV)
		}
		oid, err1 := strconv.ParseUint(parts[0], 10, 16)
		iid, err2 := strconv.ParseUint(parts[1], 10, 16)
		if err1 != nil || err2 != nil {
			return model.Value{}, fmt.Errorf("json: bad ov %q", *e.OV)
		}
		return model.NewObjectLink(model.ObjectLink{ObjectID: uint16(oid), InstanceID: uint16(iid)}), nil
	default:
		return model.Value{Type: model.TypeNone}, nil
	}
}
