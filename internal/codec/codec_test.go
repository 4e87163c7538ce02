package codec

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

func TestNegotiateAccept(t *testing.T) {
	if got := NegotiateAccept(FormatNone, false); got != FormatText {
		t.Errorf("NegotiateAccept(None, false) = %v, want Text", got)
	}
	if got := NegotiateAccept(FormatNone, true); got != FormatOMATLV {
		t.Errorf("NegotiateAccept(None, true) = %v, want OMATLV", got)
	}
	if got := NegotiateAccept(FormatOMAJSON, true); got != FormatOMAJSON {
		t.Errorf("NegotiateAccept should pass through an explicit Accept, got %v", got)
	}
}

func TestRequiresMultiValue(t *testing.T) {
	cases := []struct {
		depth int
		count int
		want  bool
	}{
		{depth: 1, count: 1, want: true},
		{depth: 2, count: 1, want: true},
		{depth: 3, count: 1, want: false},
		{depth: 3, count: 2, want: true},
		{depth: 4, count: 1, want: false},
	}
	for _, c := range cases {
		if got := RequiresMultiValue(c.depth, c.count); got != c.want {
			t.Errorf("RequiresMultiValue(%d, %d) = %v, want %v", c.depth, c.count, got, c.want)
		}
	}
}

func TestContentFormatString(t *testing.T) {
	if FormatOMATLV.String() == "" || FormatOMAJSON.String() == "" {
		t.Error("known content formats should stringify to a non-empty name")
	}
	if got := ContentFormat(9999).String(); got != "unknown(9999)" {
		t.Errorf("unknown format String() = %q", got)
	}
}

func TestEncodeUnsupportedFormat(t *testing.T) {
	src := newFakeSource()
	_, err := Encode(ContentFormat(9999), model.NewResourcePath(3, 0, 0), nil, src)
	if lwm2merr.CodeOf(err) != lwm2merr.UnsupportedContentFormat {
		t.Fatalf("expected UnsupportedContentFormat, got %v", err)
	}
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	src := newFakeSource()
	_, err := Decode(ContentFormat(9999), model.NewResourcePath(3, 0, 0), nil, src)
	if lwm2merr.CodeOf(err) != lwm2merr.UnsupportedContentFormat {
		t.Fatalf("expected UnsupportedContentFormat, got %v", err)
	}
}

func TestEncodeDecodeLinkFormatRejected(t *testing.T) {
	src := newFakeSource()
	if _, err := Encode(FormatLinkFormat, model.NewResourcePath(3, 0, 0), nil, src); err == nil {
		t.Error("expected link-format to be rejected as a value encoding")
	}
	if _, err := Decode(FormatLinkFormat, model.NewResourcePath(3, 0, 0), nil, src); err == nil {
		t.Error("expected link-format to be rejected as a value decoding")
	}
}
