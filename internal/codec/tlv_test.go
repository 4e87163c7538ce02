package codec

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

func TestTLVResourceLevelRoundTrip(t *testing.T) {
	base := model.NewResourcePath(3, 0, 0)
	p := base
	src := newFakeSource().set(p, model.NewString("Acme Corp"))

	body, err := encodeTLV(base, []model.Path{p}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}

	types := newFakeSource()
	types.types[[2]uint16{3, 0}] = model.TypeString
	nodes, err := decodeTLV(base, body, types)
	if err != nil {
		t.Fatalf("decodeTLV: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Value.String() != "Acme Corp" {
		t.Fatalf("got %v, want a single Acme Corp leaf", nodes)
	}
}

func TestTLVMultipleResourceRoundTrip(t *testing.T) {
	base := model.NewResourcePath(3, 0, 6)
	p0 := model.NewResourceInstancePath(3, 0, 6, 0)
	p1 := model.NewResourceInstancePath(3, 0, 6, 1)
	src := newFakeSource().set(p0, model.NewInteger(10)).set(p1, model.NewInteger(300))

	body, err := encodeTLV(base, []model.Path{p0, p1}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}

	types := newFakeSource()
	types.types[[2]uint16{3, 6}] = model.TypeInteger
	nodes, err := decodeTLV(base, body, types)
	if err != nil {
		t.Fatalf("decodeTLV: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 resource-instance leaves, got %d: %v", len(nodes), nodes)
	}
	byIdx := map[int32]int64{}
	for _, n := range nodes {
		byIdx[n.Path.ResourceInstance] = n.Value.Integer()
	}
	if byIdx[0] != 10 || byIdx[1] != 300 {
		t.Errorf("got %v, want {0:10, 1:300}", byIdx)
	}
}

func TestTLVInstanceLevelRoundTrip(t *testing.T) {
	base := model.NewInstancePath(3, 0)
	manufacturer := model.NewResourcePath(3, 0, 0)
	multi0 := model.NewResourceInstancePath(3, 0, 6, 0)
	multi1 := model.NewResourceInstancePath(3, 0, 6, 1)
	src := newFakeSource().
		set(manufacturer, model.NewString("Acme")).
		set(multi0, model.NewInteger(1)).
		set(multi1, model.NewInteger(2))

	body, err := encodeTLV(base, []model.Path{manufacturer, multi0, multi1}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}

	types := newFakeSource()
	types.types[[2]uint16{3, 0}] = model.TypeString
	types.types[[2]uint16{3, 6}] = model.TypeInteger
	nodes, err := decodeTLV(base, body, types)
	if err != nil {
		t.Fatalf("decodeTLV: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 leaves (1 resource + 2 resource-instances), got %d: %v", len(nodes), nodes)
	}
}

func TestTLVObjectLevelRoundTrip(t *testing.T) {
	base := model.NewObjectPath(3)
	r00 := model.NewResourcePath(3, 0, 0)
	r10 := model.NewResourcePath(3, 1, 0)
	src := newFakeSource().set(r00, model.NewString("a")).set(r10, model.NewString("b"))

	body, err := encodeTLV(base, []model.Path{r00, r10}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}

	types := newFakeSource()
	types.types[[2]uint16{3, 0}] = model.TypeString
	nodes, err := decodeTLV(base, body, types)
	if err != nil {
		t.Fatalf("decodeTLV: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 leaves across 2 instances, got %d: %v", len(nodes), nodes)
	}
}

func TestTLVResourceInstanceLevelSingleValue(t *testing.T) {
	base := model.NewResourceInstancePath(3, 0, 6, 1)
	src := newFakeSource().set(base, model.NewInteger(99))
	body, err := encodeTLV(base, []model.Path{base}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected a non-empty TLV encoding")
	}
}

func TestDecodeTLVMalformed(t *testing.T) {
	types := newFakeSource()
	if _, err := decodeTLV(model.NewResourcePath(3, 0, 0), []byte{0xC0, 0x05, 0x01}, types); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for a malformed TLV document, got %v", err)
	}
}

func TestDecodeTLVUndefinedResource(t *testing.T) {
	base := model.NewResourcePath(3, 0, 0)
	src := newFakeSource().set(base, model.NewString("x"))
	body, err := encodeTLV(base, []model.Path{base}, src)
	if err != nil {
		t.Fatalf("encodeTLV: %v", err)
	}
	types := newFakeSource()
	if _, err := decodeTLV(base, body, types); lwm2merr.CodeOf(err) != lwm2merr.NotFound {
		t.Fatalf("expected NotFound for an undefined resource, got %v", err)
	}
}

func TestBytesFromValueIntegerWidthPromotion(t *testing.T) {
	cases := []struct {
		n        int64
		wantLen  int
	}{
		{n: 1, wantLen: 1},
		{n: 1000, wantLen: 2},
		{n: 1 << 20, wantLen: 4},
		{n: 1 << 40, wantLen: 8},
	}
	for _, c := range cases {
		buf := bytesFromValue(model.NewInteger(c.n))
		if len(buf) != c.wantLen {
			t.Errorf("bytesFromValue(%d) len = %d, want %d", c.n, len(buf), c.wantLen)
		}
		got, err := valueFromTLVBytes(model.TypeInteger, buf)
		if err != nil {
			t.Fatalf("valueFromTLVBytes: %v", err)
		}
		if got.Integer() != c.n {
			t.Errorf("round trip got %d, want %d", got.Integer(), c.n)
		}
	}
}

func TestValueFromTLVBytesBadWidth(t *testing.T) {
	if _, err := valueFromTLVBytes(model.TypeInteger, []byte{1, 2, 3}); err == nil {
		t.Error("expected an error for a non-standard integer TLV width")
	}
	if _, err := valueFromTLVBytes(model.TypeBoolean, nil); err == nil {
		t.Error("expected an error for an empty boolean TLV")
	}
	if _, err := valueFromTLVBytes(model.TypeObjectLink, []byte{0, 1}); err == nil {
		t.Error("expected an error for a short objlnk TLV")
	}
}
