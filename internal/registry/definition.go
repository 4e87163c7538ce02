// Package registry implements the Definition Registry (§4.A) — the
// installed-at-startup, never-destroyed set of Object/Resource schemas.
//
// Grounded on lwm2m_resource.go's Lwm2mObjectDefinition/
// Lwm2mResourceDefinition and createObjectDefinitionFromXML, generalized
// from the teacher's private package-level types into an exported
// registry with handler hooks (DESIGN NOTES §9's capability-set trait).
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// ObjectHandler is the optional object-level capability set a definition
// may carry for create/delete delegation (DESIGN NOTES §9). Read, write
// and execute are delegated per resource through ResourceHandler; there
// is no object-level read/write/execute hook.
type ObjectHandler interface {
	OnCreate(instanceID uint16) error
	OnDelete(instanceID uint16) error
}

// ResourceHandler is the optional per-resource capability set.
type ResourceHandler interface {
	OnRead(instanceID uint16) (model.Value, error)
	OnWrite(instanceID uint16, v model.Value) error
	OnExecute(instanceID uint16, arg []byte) error
}

// ResourceDefinition describes one resource under an ObjectDefinition,
// per §3's "Resource Definition (D.A)".
type ResourceDefinition struct {
	ResourceID   uint16
	Name         string
	Type         model.ResourceType
	MinInstances int
	MaxInstances int
	Operations   model.Mask
	Default      *model.Value
	Handler      ResourceHandler
}

func (r *ResourceDefinition) SingleInstance() bool { return r.MaxInstances == 1 }
func (r *ResourceDefinition) Mandatory() bool      { return r.MinInstances >= 1 }

// Validate checks the resource-definition invariants from §3.
func (r *ResourceDefinition) Validate() error {
	if r.MinInstances < 0 || r.MaxInstances < r.MinInstances {
		return fmt.Errorf("registry: resource %d: minInstances(%d) > maxInstances(%d)", r.ResourceID, r.MinInstances, r.MaxInstances)
	}
	if r.Operations.Has(model.OpExecute) && (r.Operations.Has(model.OpRead) || r.Operations.Has(model.OpWrite)) {
		return fmt.Errorf("registry: resource %d: Execute is mutually exclusive with Read/Write", r.ResourceID)
	}
	if r.Operations.Has(model.OpExecute) && r.Type != model.TypeNone {
		return fmt.Errorf("registry: resource %d: Execute resources must have type None", r.ResourceID)
	}
	return nil
}

// ObjectDefinition describes one Object schema, per §3's "Object
// Definition (D.A)".
type ObjectDefinition struct {
	ObjectID     uint16
	Name         string
	MinInstances int
	MaxInstances int
	Handler      ObjectHandler

	resources map[uint16]*ResourceDefinition
	order     []uint16
}

func (o *ObjectDefinition) SingleInstance() bool { return o.MaxInstances == 1 }
func (o *ObjectDefinition) Mandatory() bool      { return o.MinInstances >= 1 }

func (o *ObjectDefinition) Validate() error {
	if o.MinInstances < 0 || o.MaxInstances < o.MinInstances {
		return fmt.Errorf("registry: object %d: minInstances(%d) > maxInstances(%d)", o.ObjectID, o.MinInstances, o.MaxInstances)
	}
	return nil
}

// Resource looks up a resource definition by id, nil if absent.
func (o *ObjectDefinition) Resource(resourceID uint16) *ResourceDefinition {
	return o.resources[resourceID]
}

// Resources returns every resource definition in ascending id order.
func (o *ObjectDefinition) Resources() []*ResourceDefinition {
	out := make([]*ResourceDefinition, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.resources[id])
	}
	return out
}

// Registry is the process-wide (or, per DESIGN NOTES §9, context-scoped)
// set of installed definitions.
type Registry struct {
	mu      sync.RWMutex
	objects map[uint16]*ObjectDefinition
	order   []uint16
}

func New() *Registry {
	return &Registry{objects: make(map[uint16]*ObjectDefinition)}
}

// RegisterObject installs an object definition, failing with
// AlreadyDefined semantics (mapped to Forbidden — a duplicate schema is
// not a client-facing NotFound/BadRequest) if the id is taken.
func (reg *Registry) RegisterObject(def *ObjectDefinition) error {
	if err := def.Validate(); err != nil {
		return lwm2merr.New(lwm2merr.BadRequest, err.Error())
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.objects[def.ObjectID]; exists {
		return lwm2merr.Newf(lwm2merr.Forbidden, "object %d already defined", def.ObjectID)
	}
	def.resources = make(map[uint16]*ResourceDefinition)
	reg.objects[def.ObjectID] = def
	reg.order = append(reg.order, def.ObjectID)
	sort.Slice(reg.order, func(i, j int) bool { return reg.order[i] < reg.order[j] })
	return nil
}

// RegisterResource installs a resource under an already-registered
// object. Fails AlreadyDefined if (O,R) exists, NotFound if O doesn't.
func (reg *Registry) RegisterResource(objectID uint16, def *ResourceDefinition) error {
	if err := def.Validate(); err != nil {
		return lwm2merr.New(lwm2merr.BadRequest, err.Error())
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	obj, ok := reg.objects[objectID]
	if !ok {
		return lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", objectID)
	}
	if _, exists := obj.resources[def.ResourceID]; exists {
		return lwm2merr.Newf(lwm2merr.Forbidden, "resource %d/%d already defined", objectID, def.ResourceID)
	}
	obj.resources[def.ResourceID] = def
	obj.order = append(obj.order, def.ResourceID)
	sort.Slice(obj.order, func(i, j int) bool { return obj.order[i] < obj.order[j] })
	return nil
}

// LookupObject returns the object definition for objectID, nil if undefined.
func (reg *Registry) LookupObject(objectID uint16) *ObjectDefinition {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.objects[objectID]
}

// LookupResource returns the resource definition for (O,R), nil if either
// the object or the resource is undefined.
func (reg *Registry) LookupResource(objectID, resourceID uint16) *ResourceDefinition {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	obj, ok := reg.objects[objectID]
	if !ok {
		return nil
	}
	return obj.resources[resourceID]
}

// NextObject returns the smallest defined object id strictly greater than
// prevO, or model.Invalid if none remains — the getNext* successor
// iterator from §4.A.
func (reg *Registry) NextObject(prevO int32) int32 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, id := range reg.order {
		if int32(id) > prevO {
			return int32(id)
		}
	}
	return model.Invalid
}

// NextResource returns the smallest resource id under O strictly greater
// than prevR, or model.Invalid if none remains.
func (reg *Registry) NextResource(objectID uint16, prevR int32) int32 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	obj, ok := reg.objects[objectID]
	if !ok {
		return model.Invalid
	}
	for _, id := range obj.order {
		if int32(id) > prevR {
			return int32(id)
		}
	}
	return model.Invalid
}

// Objects returns every registered object definition in ascending id order.
func (reg *Registry) Objects() []*ObjectDefinition {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*ObjectDefinition, 0, len(reg.order))
	for _, id := range reg.order {
		out = append(out, reg.objects[id])
	}
	return out
}

// IsResourceExecutable reports whether (O,R) is defined with Execute.
func (reg *Registry) IsResourceExecutable(objectID, resourceID uint16) bool {
	r := reg.LookupResource(objectID, resourceID)
	return r != nil && r.Operations.Has(model.OpExecute)
}

// IsResourceWritable reports whether (O,R) is defined with Write.
func (reg *Registry) IsResourceWritable(objectID, resourceID uint16) bool {
	r := reg.LookupResource(objectID, resourceID)
	return r != nil && r.Operations.Has(model.OpWrite)
}

// AllocSensibleDefault returns def's configured default value, or a
// type-specific zero per §4.A when none is configured.
func AllocSensibleDefault(def *ResourceDefinition) model.Value {
	if def.Default != nil {
		return *def.Default
	}
	return model.ZeroValue(def.Type)
}
