// Package codec implements the typed value codec (§4.C): encode/decode
// between the neutral model.Path/model.Value pairs the store and router
// exchange, and the wire formats a CoAP peer actually sends — OMA TLV,
// OMA JSON, CoRE link-format, plain-text and raw octet-stream.
//
// Grounded on lwm2m_tlv.go's Lwm2mTLV Marshal/Unmarshal and
// convertTLVValueToString/convertStringToTLVValue (width-promotion
// numeric encode, Base64 opaque, boolean/objlnk text forms), extended
// with the JSON and link-format formats the teacher never implemented —
// those follow original_source/core/src/lwm2m_xml_serdes.c's text-form
// conventions and RFC 6690 for link-format, since no example repo in the
// pack ships an OMA-LWM2M JSON encoder to ground against.
package codec

import (
	"fmt"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// ContentFormat is the CoAP Content-Format numeric identifier (RFC 7252
// §12.3, OMA-TS-LightweightM2M registered values).
type ContentFormat int32

const (
	FormatNone       ContentFormat = -1
	FormatText       ContentFormat = 0
	FormatLinkFormat ContentFormat = 17
	FormatOpaque     ContentFormat = 42
	FormatOMATLV     ContentFormat = 11542
	FormatOMAJSON    ContentFormat = 11543
)

func (f ContentFormat) String() string {
	switch f {
	case FormatNone:
		return "None"
	case FormatText:
		return "text/plain"
	case FormatOpaque:
		return "application/octet-stream"
	case FormatLinkFormat:
		return "application/link-format"
	case FormatOMAJSON:
		return "application/vnd.oma.lwm2m+json"
	case FormatOMATLV:
		return "application/vnd.oma.lwm2m+tlv"
	default:
		return fmt.Sprintf("unknown(%d)", int32(f))
	}
}

// ValueSource supplies the typed value at a resource-instance path, and
// the resource type at a resource path, decoupling the codec from
// internal/store's concrete type.
type ValueSource interface {
	Value(p model.Path) (model.Value, error)
}

// TypeSource resolves the declared ResourceType of a resource, needed to
// decode text/TLV payloads whose wire form is type-driven (plain-text
// carries no type tag of its own).
type TypeSource interface {
	ResourceType(objectID, resourceID uint16) (model.ResourceType, bool)
}

// Node is one decoded leaf: a resource-instance path plus its value.
// Decode returns multi-value TLV/JSON payloads as a flat slice of Nodes.
type Node struct {
	Path  model.Path
	Value model.Value
}

// Encode serializes every path returned by paths (already depth-sorted
// ancestor-first by the caller) into the wire form named by format. base
// is the path depth (Object/Instance/Resource) the payload is relative
// to, used to decide single vs multi-value framing.
func Encode(format ContentFormat, base model.Path, paths []model.Path, src ValueSource) ([]byte, error) {
	switch format {
	case FormatText, FormatNone:
		return encodeText(base, paths, src)
	case FormatOpaque:
		return encodeOpaque(base, paths, src)
	case FormatOMATLV:
		return encodeTLV(base, paths, src)
	case FormatOMAJSON:
		return encodeJSON(base, paths, src)
	case FormatLinkFormat:
		return nil, lwm2merr.New(lwm2merr.BadRequest, "link-format is write-only as a value encoding")
	default:
		return nil, lwm2merr.Newf(lwm2merr.UnsupportedContentFormat, "unsupported accept type %s", format)
	}
}

// Decode parses body into a flat list of resource-instance (Path, Value)
// leaves, relative to base (the path the request targeted). types
// resolves each referenced resource's declared type so text/TLV payloads
// lacking their own type tag can be interpreted correctly.
func Decode(format ContentFormat, base model.Path, body []byte, types TypeSource) ([]Node, error) {
	switch format {
	case FormatText, FormatNone:
		return decodeText(base, body, types)
	case FormatOpaque:
		return decodeOpaque(base, body)
	case FormatOMATLV:
		return decodeTLV(base, body, types)
	case FormatOMAJSON:
		return decodeJSON(base, body, types)
	case FormatLinkFormat:
		return nil, lwm2merr.New(lwm2merr.BadRequest, "link-format cannot be decoded as a value payload")
	default:
		return nil, lwm2merr.Newf(lwm2merr.UnsupportedContentFormat, "unsupported content type %s", format)
	}
}

// NegotiateAccept picks the response format when the peer specified no
// Accept option, per §4.C's negotiation rule: OMA-TLV for a multi-value
// result, plain-text otherwise.
func NegotiateAccept(accept ContentFormat, multiValue bool) ContentFormat {
	if accept == FormatNone {
		if multiValue {
			return FormatOMATLV
		}
		return FormatText
	}
	return accept
}

// RequiresMultiValue reports whether depth or instance-count forces a
// TLV/JSON encoding rather than plain-text/opaque, per §4.C.
func RequiresMultiValue(depth int, resourceInstanceCount int) bool {
	return depth < 3 || resourceInstanceCount > 1
}
