package model

import "testing"

func TestPathDepth(t *testing.T) {
	cases := []struct {
		path Path
		want int
	}{
		{Path{Invalid, Invalid, Invalid, Invalid}, 0},
		{NewObjectPath(3), 1},
		{NewInstancePath(3, 0), 2},
		{NewResourcePath(3, 0, 1), 3},
		{NewResourceInstancePath(3, 0, 1, 0), 4},
	}
	for _, c := range cases {
		if got := c.path.Depth(); got != c.want {
			t.Errorf("Depth(%v) = %d, want %d", c.path, got, c.want)
		}
	}
}

func TestPathString(t *testing.T) {
	if got, want := NewResourcePath(3, 0, 1).String(), "/3/0/1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := NewObjectPath(3).String(), "/3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestPathIsPrefixOf(t *testing.T) {
	obj := NewObjectPath(3)
	inst := NewInstancePath(3, 0)
	res := NewResourcePath(3, 0, 1)
	other := NewResourcePath(4, 0, 1)

	if !obj.IsPrefixOf(inst) {
		t.Error("object path should prefix its instance")
	}
	if !obj.IsPrefixOf(res) {
		t.Error("object path should prefix a resource under it")
	}
	if !inst.IsPrefixOf(res) {
		t.Error("instance path should prefix its resource")
	}
	if res.IsPrefixOf(inst) {
		t.Error("resource path should not prefix its own ancestor instance")
	}
	if obj.IsPrefixOf(other) {
		t.Error("different object id should not be a prefix")
	}
	if !res.IsPrefixOf(res) {
		t.Error("a path should prefix itself")
	}
}

func TestPathEqual(t *testing.T) {
	a := NewResourcePath(3, 0, 1)
	b := NewResourcePath(3, 0, 1)
	c := NewResourcePath(3, 0, 2)
	if !a.Equal(b) {
		t.Error("identical paths should be equal")
	}
	if a.Equal(c) {
		t.Error("differing paths should not be equal")
	}
}

func TestMaskHas(t *testing.T) {
	m := Mask(OpRead) | Mask(OpWrite)
	if !m.Has(OpRead) {
		t.Error("mask should have OpRead")
	}
	if !m.Has(OpWrite) {
		t.Error("mask should have OpWrite")
	}
	if m.Has(OpExecute) {
		t.Error("mask should not have OpExecute")
	}
}

func TestResourceTypeString(t *testing.T) {
	if TypeInteger.String() != "Integer" {
		t.Errorf("TypeInteger.String() = %q", TypeInteger.String())
	}
	if ResourceType(200).String() != "Unknown" {
		t.Errorf("unknown type should stringify to Unknown")
	}
}

func TestObjectLinkString(t *testing.T) {
	l := ObjectLink{ObjectID: 3, InstanceID: 7}
	if got, want := l.String(), "3:7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
