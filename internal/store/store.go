// Package store implements the Object Store (§4.B) — the in-memory,
// definition-backed instance data held by a single LWM2M context,
// fronting internal/tree with the create/delete/list/read/write/execute
// operations the router and bootstrap state machines call.
//
// Grounded on lwm2m.go's findInstance/findResource/searchDM*Instance
// traversal pattern and the Lwm2mHandler interface it drives, generalized
// from a single external-handler abstraction into a definition+tree pair
// that also honors per-object/per-resource Handler delegation (DESIGN
// NOTES §9) when a registry.ObjectHandler/ResourceHandler is installed.
package store

import (
	"sort"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/registry"
	"github.com/tamarinlabs/lwm2md/internal/tree"
)

// Store binds a Registry of schemas to a Tree of live instance data.
type Store struct {
	reg  *registry.Registry
	tree *tree.Tree
}

func New(reg *registry.Registry) *Store {
	return &Store{reg: reg, tree: tree.New()}
}

// Registry returns the schema registry backing this store.
func (s *Store) Registry() *registry.Registry { return s.reg }

// ListObjectIDs returns every object id currently instantiated (i.e. with
// at least one instance present in the tree), not merely defined.
func (s *Store) ListObjectIDs() []uint16 {
	ids := make([]uint16, 0, len(s.tree.Objects))
	for _, o := range s.tree.Objects {
		if len(o.Instances) > 0 {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListInstanceIDs returns the instance ids present under objectID.
func (s *Store) ListInstanceIDs(objectID uint16) ([]uint16, error) {
	if s.reg.LookupObject(objectID) == nil {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", objectID)
	}
	o := s.tree.Get(objectID)
	if o == nil {
		return nil, nil
	}
	ids := make([]uint16, 0, len(o.Instances))
	for _, i := range o.Instances {
		ids = append(ids, i.ID)
	}
	return ids, nil
}

// ListResourceIDs returns the resource ids present on (objectID,
// instanceID) that carry a value in the tree.
func (s *Store) ListResourceIDs(objectID, instanceID uint16) ([]uint16, error) {
	inst, err := s.getInstance(objectID, instanceID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint16, 0, len(inst.Resources))
	for _, r := range inst.Resources {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) getInstance(objectID, instanceID uint16) (*tree.InstanceNode, error) {
	if s.reg.LookupObject(objectID) == nil {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", objectID)
	}
	o := s.tree.Get(objectID)
	if o == nil {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "object %d has no instances", objectID)
	}
	inst := o.Get(instanceID)
	if inst == nil {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "instance %d/%d not found", objectID, instanceID)
	}
	return inst, nil
}

// CreateInstance creates a new object instance. If instanceID is
// model.Invalid the store allocates the smallest unused id, per §4.B's
// Create semantics. Fails MethodNotAllowed if the object's MaxInstances
// bound is already reached.
func (s *Store) CreateInstance(objectID uint16, instanceID int32) (uint16, error) {
	def := s.reg.LookupObject(objectID)
	if def == nil {
		return 0, lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", objectID)
	}
	o := s.tree.GetOrCreate(objectID)
	if len(o.Instances) >= def.MaxInstances {
		return 0, lwm2merr.Newf(lwm2merr.MethodNotAllowed, "object %d has no free instance slot", objectID)
	}

	id := uint16(instanceID)
	if instanceID == model.Invalid {
		id = nextFreeInstanceID(o)
	} else if o.Get(id) != nil {
		return 0, lwm2merr.Newf(lwm2merr.Forbidden, "instance %d/%d already exists", objectID, id)
	}

	inst := o.GetOrCreate(id)
	for _, rdef := range def.Resources() {
		if rdef.Mandatory() && rdef.Type != model.TypeNone {
			r := inst.GetOrCreate(rdef.ResourceID)
			r.Put(0, registry.AllocSensibleDefault(rdef))
		}
	}
	if def.Handler != nil {
		if err := def.Handler.OnCreate(id); err != nil {
			o.Instances = removeInstance(o.Instances, id)
			return 0, lwm2merr.New(lwm2merr.InternalError, err.Error())
		}
	}
	return id, nil
}

func nextFreeInstanceID(o *tree.ObjectNode) uint16 {
	used := make(map[uint16]bool, len(o.Instances))
	for _, i := range o.Instances {
		used[i.ID] = true
	}
	for id := uint16(0); ; id++ {
		if !used[id] {
			return id
		}
	}
}

func removeInstance(instances []*tree.InstanceNode, id uint16) []*tree.InstanceNode {
	out := instances[:0]
	for _, i := range instances {
		if i.ID != id {
			out = append(out, i)
		}
	}
	return out
}

// DeleteInstance removes an object instance. Fails NotFound if absent.
func (s *Store) DeleteInstance(objectID, instanceID uint16) error {
	def := s.reg.LookupObject(objectID)
	if def == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", objectID)
	}
	o := s.tree.Get(objectID)
	if o == nil || o.Get(instanceID) == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "instance %d/%d not found", objectID, instanceID)
	}
	if def.Handler != nil {
		if err := def.Handler.OnDelete(instanceID); err != nil {
			return lwm2merr.New(lwm2merr.InternalError, err.Error())
		}
	}
	o.Instances = removeInstance(o.Instances, instanceID)
	return nil
}

// ReadResource reads every resource-instance value under (O,I,R).
// Delegates to a registered ResourceHandler.OnRead when present,
// otherwise reads the tree directly.
func (s *Store) ReadResource(objectID, instanceID, resourceID uint16) ([]model.Value, error) {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", objectID, resourceID)
	}
	if !rdef.Operations.Has(model.OpRead) {
		return nil, lwm2merr.Newf(lwm2merr.MethodNotAllowed, "resource %d/%d is not readable", objectID, resourceID)
	}
	inst, err := s.getInstance(objectID, instanceID)
	if err != nil {
		return nil, err
	}
	if rdef.Handler != nil {
		v, err := rdef.Handler.OnRead(instanceID)
		if err != nil {
			return nil, lwm2merr.New(lwm2merr.InternalError, err.Error())
		}
		return []model.Value{v}, nil
	}
	r := inst.Get(resourceID)
	if r == nil || len(r.Instances) == 0 {
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d/%d has no value", objectID, instanceID, resourceID)
	}
	out := make([]model.Value, len(r.Instances))
	for i, ri := range r.Instances {
		out[i] = ri.Value
	}
	return out, nil
}

// WriteResource sets a single resource-instance value. Delegates to a
// registered ResourceHandler.OnWrite when present.
func (s *Store) WriteResource(objectID, instanceID, resourceID uint16, resourceInstance int32, v model.Value) error {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", objectID, resourceID)
	}
	if !rdef.Operations.Has(model.OpWrite) {
		return lwm2merr.Newf(lwm2merr.MethodNotAllowed, "resource %d/%d is not writable", objectID, resourceID)
	}
	if v.Type != rdef.Type {
		return lwm2merr.Newf(lwm2merr.BadRequest, "resource %d/%d expects type %s, got %s", objectID, resourceID, rdef.Type, v.Type)
	}
	inst, err := s.getInstance(objectID, instanceID)
	if err != nil {
		return err
	}
	if rdef.Handler != nil {
		if err := rdef.Handler.OnWrite(instanceID, v); err != nil {
			return lwm2merr.New(lwm2merr.InternalError, err.Error())
		}
		return nil
	}
	idx := resourceInstance
	if idx == model.Invalid {
		idx = 0
	}
	inst.GetOrCreate(resourceID).Put(idx, v)
	return nil
}

// DeleteResource removes the whole resource-instance subtree under (O,
// I, R), per §4.E's resource-level DELETE. Only an optional resource may
// be removed this way; a mandatory resource or one backed by a
// ResourceHandler rejects with MethodNotAllowed, since neither has a
// meaningful "absent" state.
func (s *Store) DeleteResource(objectID, instanceID, resourceID uint16) error {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", objectID, resourceID)
	}
	if rdef.Mandatory() || rdef.Handler != nil {
		return lwm2merr.Newf(lwm2merr.MethodNotAllowed, "resource %d/%d cannot be deleted", objectID, resourceID)
	}
	inst, err := s.getInstance(objectID, instanceID)
	if err != nil {
		return err
	}
	if !inst.RemoveResource(resourceID) {
		return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d/%d has no value", objectID, instanceID, resourceID)
	}
	return nil
}

// ClearResourceInstances drops every existing resource-instance value
// under (O, I, R) without the optional-resource restriction
// DeleteResource enforces, for PUT replace-write (§4.E): the caller
// immediately repopulates the resource from the request payload, so
// clearing a mandatory resource here is safe. A no-op when the resource
// is handler-backed, since the handler owns its own storage.
func (s *Store) ClearResourceInstances(objectID, instanceID, resourceID uint16) error {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", objectID, resourceID)
	}
	if rdef.Handler != nil {
		return nil
	}
	inst, err := s.getInstance(objectID, instanceID)
	if err != nil {
		return err
	}
	inst.RemoveResource(resourceID)
	return nil
}

// ExecuteResource invokes an executable resource with an optional
// argument payload. Delegates to a registered ResourceHandler.OnExecute;
// an executable resource with no handler installed is a no-op success,
// matching the teacher's ExecuteResource being entirely handler-driven.
func (s *Store) ExecuteResource(objectID, instanceID, resourceID uint16, arg []byte) error {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", objectID, resourceID)
	}
	if !rdef.Operations.Has(model.OpExecute) {
		return lwm2merr.Newf(lwm2merr.MethodNotAllowed, "resource %d/%d is not executable", objectID, resourceID)
	}
	if _, err := s.getInstance(objectID, instanceID); err != nil {
		return err
	}
	if rdef.Handler != nil {
		if err := rdef.Handler.OnExecute(instanceID, arg); err != nil {
			return lwm2merr.New(lwm2merr.InternalError, err.Error())
		}
	}
	return nil
}

// ReadSubtree walks every resource-instance value reachable from p,
// returning them as a flat path list usable by the codec's encode path
// (§4.C). p may address an Object, Instance, Resource or Resource
// Instance.
func (s *Store) ReadSubtree(p model.Path) ([]model.Path, error) {
	var out []model.Path
	switch p.Depth() {
	case 1:
		if s.reg.LookupObject(uint16(p.ObjectID)) == nil {
			return nil, lwm2merr.Newf(lwm2merr.NotFound, "object %d not defined", p.ObjectID)
		}
		o := s.tree.Get(uint16(p.ObjectID))
		if o == nil {
			return nil, lwm2merr.Newf(lwm2merr.NotFound, "object %d has no instances", p.ObjectID)
		}
		for _, i := range o.Instances {
			out = append(out, collectInstance(uint16(p.ObjectID), i)...)
		}
	case 2:
		inst, err := s.getInstance(uint16(p.ObjectID), uint16(p.InstanceID))
		if err != nil {
			return nil, err
		}
		out = append(out, collectInstance(uint16(p.ObjectID), inst)...)
	case 3:
		inst, err := s.getInstance(uint16(p.ObjectID), uint16(p.InstanceID))
		if err != nil {
			return nil, err
		}
		r := inst.Get(uint16(p.ResourceID))
		if r == nil {
			return nil, lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d/%d not found", p.ObjectID, p.InstanceID, p.ResourceID)
		}
		for _, ri := range r.Instances {
			out = append(out, model.NewResourceInstancePath(uint16(p.ObjectID), uint16(p.InstanceID), r.ID, uint16(ri.Index)))
		}
	case 4:
		if _, err := s.ReadResource(uint16(p.ObjectID), uint16(p.InstanceID), uint16(p.ResourceID)); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func collectInstance(objectID uint16, inst *tree.InstanceNode) []model.Path {
	var out []model.Path
	for _, r := range inst.Resources {
		for _, ri := range r.Instances {
			out = append(out, model.NewResourceInstancePath(objectID, inst.ID, r.ID, uint16(ri.Index)))
		}
	}
	return out
}

// ResourceType resolves the declared type of (objectID, resourceID),
// satisfying internal/codec.TypeSource.
func (s *Store) ResourceType(objectID, resourceID uint16) (model.ResourceType, bool) {
	rdef := s.reg.LookupResource(objectID, resourceID)
	if rdef == nil {
		return 0, false
	}
	return rdef.Type, true
}

// Value returns the value stored at a fully-qualified resource-instance
// path, as used by the codec when serializing a ReadSubtree result.
func (s *Store) Value(p model.Path) (model.Value, error) {
	inst, err := s.getInstance(uint16(p.ObjectID), uint16(p.InstanceID))
	if err != nil {
		return model.Value{}, err
	}
	r := inst.Get(uint16(p.ResourceID))
	if r == nil {
		return model.Value{}, lwm2merr.Newf(lwm2merr.NotFound, "resource %s not found", p)
	}
	idx := p.ResourceInstance
	if idx == model.Invalid {
		idx = 0
	}
	ri := r.Get(idx)
	if ri == nil {
		return model.Value{}, lwm2merr.Newf(lwm2merr.NotFound, "resource instance %s not found", p)
	}
	return ri.Value, nil
}
