package codec

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

func TestTextFromValueRoundTrip(t *testing.T) {
	cases := []model.Value{
		model.NewString("hello"),
		model.NewInteger(-42),
		model.NewFloat(3.5),
		model.NewBoolean(true),
		model.NewBoolean(false),
		model.NewOpaque([]byte{0x01, 0x02, 0xFF}),
		model.NewObjectLink(model.ObjectLink{ObjectID: 3, InstanceID: 7}),
		model.NewTime(1700000000),
	}
	for _, v := range cases {
		s, err := TextFromValue(v)
		if err != nil {
			t.Fatalf("TextFromValue(%v): %v", v, err)
		}
		got, err := ValueFromText(v.Type, s)
		if err != nil {
			t.Fatalf("ValueFromText(%v, %q): %v", v.Type, s, err)
		}
		if got.Bytes() == nil || v.Bytes() == nil {
			t.Fatalf("Bytes() unexpectedly nil for %v", v)
		}
		want := string(v.Bytes())
		if string(got.Bytes()) != want {
			t.Errorf("round trip mismatch for %v via %q: got %v", v, s, got)
		}
	}
}

func TestValueFromTextBadInteger(t *testing.T) {
	if _, err := ValueFromText(model.TypeInteger, "not-a-number"); err == nil {
		t.Error("expected an error for a non-numeric integer text value")
	}
}

func TestValueFromTextBadOpaque(t *testing.T) {
	if _, err := ValueFromText(model.TypeOpaque, "not base64!!"); err == nil {
		t.Error("expected an error for invalid base64 opaque text")
	}
}

func TestEncodeTextSingleValue(t *testing.T) {
	p := model.NewResourcePath(3, 0, 0)
	src := newFakeSource().set(p, model.NewString("Acme"))
	body, err := encodeText(model.NewResourcePath(3, 0, 0), []model.Path{p}, src)
	if err != nil {
		t.Fatalf("encodeText: %v", err)
	}
	if string(body) != "Acme" {
		t.Errorf("got %q, want %q", body, "Acme")
	}
}

func TestEncodeTextRejectsMultiple(t *testing.T) {
	p0 := model.NewResourceInstancePath(3, 0, 6, 0)
	p1 := model.NewResourceInstancePath(3, 0, 6, 1)
	src := newFakeSource().set(p0, model.NewInteger(1)).set(p1, model.NewInteger(2))
	if _, err := encodeText(model.NewResourcePath(3, 0, 6), []model.Path{p0, p1}, src); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for multi-value plain-text, got %v", err)
	}
}

func TestDecodeTextDepthValidation(t *testing.T) {
	types := newFakeSource()
	if _, err := decodeText(model.NewInstancePath(3, 0), []byte("x"), types); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for an instance-level plain-text write, got %v", err)
	}
}

func TestDecodeTextResourceLevel(t *testing.T) {
	types := newFakeSource()
	types.types[[2]uint16{3, 0}] = model.TypeString
	nodes, err := decodeText(model.NewResourcePath(3, 0, 0), []byte("Acme"), types)
	if err != nil {
		t.Fatalf("decodeText: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Value.String() != "Acme" {
		t.Errorf("got %v, want a single Acme leaf", nodes)
	}
	want := model.NewResourceInstancePath(3, 0, 0, 0)
	if !nodes[0].Path.Equal(want) {
		t.Errorf("decodeText should fill resource-instance 0, got %s", nodes[0].Path)
	}
}

func TestDecodeTextUndefinedResource(t *testing.T) {
	types := newFakeSource()
	if _, err := decodeText(model.NewResourcePath(3, 0, 99), []byte("x"), types); lwm2merr.CodeOf(err) != lwm2merr.NotFound {
		t.Fatalf("expected NotFound for an undefined resource, got %v", err)
	}
}

func TestEncodeOpaqueRequiresOpaqueType(t *testing.T) {
	p := model.NewResourcePath(3, 0, 0)
	src := newFakeSource().set(p, model.NewString("not opaque"))
	if _, err := encodeOpaque(model.NewResourcePath(3, 0, 0), []model.Path{p}, src); lwm2merr.CodeOf(err) != lwm2merr.BadRequest {
		t.Fatalf("expected BadRequest for a non-opaque resource, got %v", err)
	}
}

func TestEncodeDecodeOpaqueRoundTrip(t *testing.T) {
	p := model.NewResourcePath(3, 0, 0)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	src := newFakeSource().set(p, model.NewOpaque(want))
	body, err := encodeOpaque(model.NewResourcePath(3, 0, 0), []model.Path{p}, src)
	if err != nil {
		t.Fatalf("encodeOpaque: %v", err)
	}
	nodes, err := decodeOpaque(model.NewResourcePath(3, 0, 0), body)
	if err != nil {
		t.Fatalf("decodeOpaque: %v", err)
	}
	if len(nodes) != 1 || string(nodes[0].Value.Opaque()) != string(want) {
		t.Errorf("got %v, want %v", nodes, want)
	}
}
