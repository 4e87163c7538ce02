package codec

import (
	"fmt"

	"github.com/tamarinlabs/lwm2md/internal/model"
)

// fakeSource is a minimal map-backed ValueSource/TypeSource double used
// across this package's tests, standing in for internal/store.Store.
type fakeSource struct {
	values map[model.Path]model.Value
	types  map[[2]uint16]model.ResourceType
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		values: map[model.Path]model.Value{},
		types:  map[[2]uint16]model.ResourceType{},
	}
}

func (f *fakeSource) set(p model.Path, v model.Value) *fakeSource {
	f.values[p] = v
	f.types[[2]uint16{uint16(p.ObjectID), uint16(p.ResourceID)}] = v.Type
	return f
}

func (f *fakeSource) Value(p model.Path) (model.Value, error) {
	v, ok := f.values[p]
	if !ok {
		return model.Value{}, fmt.Errorf("fakeSource: no value at %s", p)
	}
	return v, nil
}

func (f *fakeSource) ResourceType(objectID, resourceID uint16) (model.ResourceType, bool) {
	t, ok := f.types[[2]uint16{objectID, resourceID}]
	return t, ok
}
