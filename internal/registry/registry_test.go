package registry

import (
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

func TestRegisterObjectAndResource(t *testing.T) {
	reg := New()
	obj := &ObjectDefinition{ObjectID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1}
	if err := reg.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	res := &ResourceDefinition{ResourceID: 0, Name: "Manufacturer", Type: model.TypeString, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)}
	if err := reg.RegisterResource(3, res); err != nil {
		t.Fatalf("RegisterResource: %v", err)
	}

	got := reg.LookupResource(3, 0)
	if got == nil || got.Name != "Manufacturer" {
		t.Fatalf("LookupResource did not return the registered definition: %v", got)
	}
}

func TestRegisterObjectDuplicate(t *testing.T) {
	reg := New()
	obj := &ObjectDefinition{ObjectID: 3, MaxInstances: 1}
	if err := reg.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	err := reg.RegisterObject(&ObjectDefinition{ObjectID: 3, MaxInstances: 1})
	if lwm2merr.CodeOf(err) != lwm2merr.Forbidden {
		t.Fatalf("expected Forbidden for duplicate object, got %v", err)
	}
}

func TestRegisterResourceUnknownObject(t *testing.T) {
	reg := New()
	err := reg.RegisterResource(99, &ResourceDefinition{ResourceID: 0, Type: model.TypeString, MaxInstances: 1})
	if lwm2merr.CodeOf(err) != lwm2merr.NotFound {
		t.Fatalf("expected NotFound for undefined object, got %v", err)
	}
}

func TestResourceDefinitionValidate(t *testing.T) {
	bad := &ResourceDefinition{ResourceID: 1, MinInstances: 2, MaxInstances: 1}
	if bad.Validate() == nil {
		t.Error("expected error when minInstances > maxInstances")
	}
	executeWithType := &ResourceDefinition{ResourceID: 2, Type: model.TypeInteger, Operations: model.Mask(model.OpExecute)}
	if executeWithType.Validate() == nil {
		t.Error("expected error for an executable resource with a non-None type")
	}
	executeWithReadWrite := &ResourceDefinition{ResourceID: 3, Type: model.TypeNone, Operations: model.Mask(model.OpExecute) | model.Mask(model.OpRead)}
	if executeWithReadWrite.Validate() == nil {
		t.Error("expected error when Execute is combined with Read")
	}
}

func TestNextObjectAndResource(t *testing.T) {
	reg := New()
	for _, id := range []uint16{1, 3, 5} {
		if err := reg.RegisterObject(&ObjectDefinition{ObjectID: id, MaxInstances: 1}); err != nil {
			t.Fatalf("RegisterObject(%d): %v", id, err)
		}
	}
	if got := reg.NextObject(model.Invalid); got != 1 {
		t.Errorf("NextObject(Invalid) = %d, want 1", got)
	}
	if got := reg.NextObject(1); got != 3 {
		t.Errorf("NextObject(1) = %d, want 3", got)
	}
	if got := reg.NextObject(5); got != model.Invalid {
		t.Errorf("NextObject(5) = %d, want Invalid", got)
	}

	for _, id := range []uint16{0, 2} {
		if err := reg.RegisterResource(1, &ResourceDefinition{ResourceID: id, Type: model.TypeString, MaxInstances: 1}); err != nil {
			t.Fatalf("RegisterResource(%d): %v", id, err)
		}
	}
	if got := reg.NextResource(1, model.Invalid); got != 0 {
		t.Errorf("NextResource(Invalid) = %d, want 0", got)
	}
	if got := reg.NextResource(1, 0); got != 2 {
		t.Errorf("NextResource(0) = %d, want 2", got)
	}
}

func TestObjectsOrdering(t *testing.T) {
	reg := New()
	for _, id := range []uint16{5, 1, 3} {
		if err := reg.RegisterObject(&ObjectDefinition{ObjectID: id, MaxInstances: 1}); err != nil {
			t.Fatalf("RegisterObject(%d): %v", id, err)
		}
	}
	objs := reg.Objects()
	if len(objs) != 3 || objs[0].ObjectID != 1 || objs[1].ObjectID != 3 || objs[2].ObjectID != 5 {
		t.Errorf("Objects() not in ascending id order: %v", objs)
	}
}

func TestIsResourceExecutableAndWritable(t *testing.T) {
	reg := New()
	if err := reg.RegisterObject(&ObjectDefinition{ObjectID: 1, MaxInstances: 1}); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	exec := &ResourceDefinition{ResourceID: 0, Type: model.TypeNone, Operations: model.Mask(model.OpExecute)}
	write := &ResourceDefinition{ResourceID: 1, Type: model.TypeInteger, Operations: model.Mask(model.OpWrite)}
	if err := reg.RegisterResource(1, exec); err != nil {
		t.Fatalf("RegisterResource exec: %v", err)
	}
	if err := reg.RegisterResource(1, write); err != nil {
		t.Fatalf("RegisterResource write: %v", err)
	}
	if !reg.IsResourceExecutable(1, 0) {
		t.Error("resource 0 should be executable")
	}
	if reg.IsResourceWritable(1, 0) {
		t.Error("resource 0 should not be writable")
	}
	if !reg.IsResourceWritable(1, 1) {
		t.Error("resource 1 should be writable")
	}
}

func TestAllocSensibleDefault(t *testing.T) {
	def := &ResourceDefinition{Type: model.TypeInteger}
	if got := AllocSensibleDefault(def); got.Integer() != 0 {
		t.Errorf("expected zero default, got %d", got.Integer())
	}
	want := model.NewInteger(42)
	def.Default = &want
	if got := AllocSensibleDefault(def); got.Integer() != 42 {
		t.Errorf("expected configured default 42, got %d", got.Integer())
	}
}
