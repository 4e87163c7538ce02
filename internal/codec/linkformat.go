package codec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// Link is one CoRE-link-format token: a path plus its recognized
// attributes, per RFC 6690 and §4.C's "ct"/"rt" attribute set.
type Link struct {
	Path model.Path
	CT   *int32
	RT   string
}

func (l Link) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(l.Path.String())
	b.WriteByte('>')
	if l.CT != nil {
		fmt.Fprintf(&b, ";ct=%d", *l.CT)
	}
	if l.RT != "" {
		fmt.Fprintf(&b, ";rt=\"%s\"", l.RT)
	}
	return b.String()
}

// EncodeLinkFormat renders links joined by ",", in ascending path order
// — used for Discover responses and the Registration payload.
func EncodeLinkFormat(links []Link) []byte {
	sorted := append([]Link(nil), links...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Path, sorted[j].Path
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		if a.InstanceID != b.InstanceID {
			return a.InstanceID < b.InstanceID
		}
		return a.ResourceID < b.ResourceID
	})
	parts := make([]string, len(sorted))
	for i, l := range sorted {
		parts[i] = l.String()
	}
	return []byte(strings.Join(parts, ","))
}

// ParseLinkFormat parses a CoRE-link-format document into Links, per
// §4.C's "tokens separated by `,`" rule. Unrecognized attributes are
// ignored; malformed paths fail with BadRequest.
func ParseLinkFormat(body []byte) ([]Link, error) {
	var links []Link
	for _, token := range strings.Split(string(body), ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if !strings.HasPrefix(token, "<") {
			return nil, lwm2merr.Newf(lwm2merr.BadRequest, "link-format: missing '<' in token %q", token)
		}
		end := strings.IndexByte(token, '>')
		if end < 0 {
			return nil, lwm2merr.Newf(lwm2merr.BadRequest, "link-format: missing '>' in token %q", token)
		}
		pathStr := token[1:end]
		link := Link{}
		p, err := parseURIPath(pathStr)
		if err != nil {
			return nil, err
		}
		link.Path = p

		rest := token[end+1:]
		for _, attr := range strings.Split(rest, ";") {
			attr = strings.TrimSpace(attr)
			if attr == "" {
				continue
			}
			kv := strings.SplitN(attr, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key, val := kv[0], strings.Trim(kv[1], `"`)
			switch key {
			case "ct":
				n, err := strconv.ParseInt(val, 10, 32)
				if err != nil {
					return nil, lwm2merr.Newf(lwm2merr.BadRequest, "link-format: bad ct value %q", val)
				}
				v := int32(n)
				link.CT = &v
			case "rt":
				link.RT = val
			}
		}
		links = append(links, link)
	}
	return links, nil
}

// ParsePath turns "/3/0/1" (or the root "/") into a model.Path, the
// exported form of parseURIPath used outside this package (the IPC edge's
// Target Path attribute, §6).
func ParsePath(s string) (model.Path, error) { return parseURIPath(s) }

// parseURIPath turns "/3/0/1" (or the root "/") into a model.Path,
// tolerating the variable-depth addressing §3 describes.
func parseURIPath(s string) (model.Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return model.Path{model.Invalid, model.Invalid, model.Invalid, model.Invalid}, nil
	}
	segs := strings.Split(s, "/")
	if len(segs) > 4 {
		return model.Path{}, lwm2merr.Newf(lwm2merr.BadRequest, "link-format: path %q has too many segments", s)
	}
	ids := [4]int32{model.Invalid, model.Invalid, model.Invalid, model.Invalid}
	for i, seg := range segs {
		n, err := strconv.ParseUint(seg, 10, 16)
		if err != nil {
			return model.Path{}, lwm2merr.Newf(lwm2merr.BadRequest, "link-format: bad path segment %q", seg)
		}
		ids[i] = int32(n)
	}
	return model.Path{ObjectID: ids[0], InstanceID: ids[1], ResourceID: ids[2], ResourceInstance: ids[3]}, nil
}
