// Package tree implements the neutral four-level node representation
// (Object → ObjectInstance → Resource → ResourceInstance) that sits
// between the codecs (internal/codec) and the object store
// (internal/store), per §4.D.
//
// Grounded on original_source/api/src/objects_tree.c's sparse path tree
// and the teacher's Lwm2mObject/Lwm2mInstance/Lwm2mResource family,
// generalized to carry values rather than only definition lookups.
package tree

import (
	"sort"

	"github.com/tamarinlabs/lwm2md/internal/model"
)

// ResourceInstanceNode is a leaf holding one typed value.
type ResourceInstanceNode struct {
	Index int32
	Value model.Value
}

// ResourceNode groups the resource-instances of one resource.
type ResourceNode struct {
	ID        uint16
	Instances []*ResourceInstanceNode
}

func (r *ResourceNode) Get(index int32) *ResourceInstanceNode {
	for _, ri := range r.Instances {
		if ri.Index == index {
			return ri
		}
	}
	return nil
}

func (r *ResourceNode) Put(index int32, v model.Value) {
	if existing := r.Get(index); existing != nil {
		existing.Value = v
		return
	}
	r.Instances = append(r.Instances, &ResourceInstanceNode{Index: index, Value: v})
	sort.Slice(r.Instances, func(i, j int) bool { return r.Instances[i].Index < r.Instances[j].Index })
}

// InstanceNode groups the resources of one object instance.
type InstanceNode struct {
	ID        uint16
	Resources []*ResourceNode
}

func (i *InstanceNode) Get(resourceID uint16) *ResourceNode {
	for _, r := range i.Resources {
		if r.ID == resourceID {
			return r
		}
	}
	return nil
}

func (i *InstanceNode) GetOrCreate(resourceID uint16) *ResourceNode {
	if r := i.Get(resourceID); r != nil {
		return r
	}
	r := &ResourceNode{ID: resourceID}
	i.Resources = append(i.Resources, r)
	sort.Slice(i.Resources, func(a, b int) bool { return i.Resources[a].ID < i.Resources[b].ID })
	return r
}

// RemoveResource drops the resource's whole resource-instance subtree,
// reporting whether it was present.
func (i *InstanceNode) RemoveResource(resourceID uint16) bool {
	for idx, r := range i.Resources {
		if r.ID == resourceID {
			i.Resources = append(i.Resources[:idx], i.Resources[idx+1:]...)
			return true
		}
	}
	return false
}

// ObjectNode groups the instances of one object.
type ObjectNode struct {
	ID        uint16
	Instances []*InstanceNode
}

func (o *ObjectNode) Get(instanceID uint16) *InstanceNode {
	for _, i := range o.Instances {
		if i.ID == instanceID {
			return i
		}
	}
	return nil
}

func (o *ObjectNode) GetOrCreate(instanceID uint16) *InstanceNode {
	if i := o.Get(instanceID); i != nil {
		return i
	}
	i := &InstanceNode{ID: instanceID}
	o.Instances = append(o.Instances, i)
	sort.Slice(o.Instances, func(a, b int) bool { return o.Instances[a].ID < o.Instances[b].ID })
	return i
}

// Tree is a forest of ObjectNode, the root of the neutral representation.
type Tree struct {
	Objects []*ObjectNode
}

func New() *Tree { return &Tree{} }

func (t *Tree) Get(objectID uint16) *ObjectNode {
	for _, o := range t.Objects {
		if o.ID == objectID {
			return o
		}
	}
	return nil
}

func (t *Tree) GetOrCreate(objectID uint16) *ObjectNode {
	if o := t.Get(objectID); o != nil {
		return o
	}
	o := &ObjectNode{ID: objectID}
	t.Objects = append(t.Objects, o)
	sort.Slice(t.Objects, func(a, b int) bool { return t.Objects[a].ID < t.Objects[b].ID })
	return o
}

// Put stores a single resource-instance value at path p, creating
// ancestor nodes as required.
func (t *Tree) Put(p model.Path, v model.Value) {
	o := t.GetOrCreate(uint16(p.ObjectID))
	i := o.GetOrCreate(uint16(p.InstanceID))
	r := i.GetOrCreate(uint16(p.ResourceID))
	idx := p.ResourceInstance
	if idx == model.Invalid {
		idx = 0
	}
	r.Put(idx, v)
}

// Paths returns every resource-instance path stored in the tree, in
// ascending order — used by the codec to walk a subtree for encoding.
func (t *Tree) Paths() []model.Path {
	var out []model.Path
	for _, o := range t.Objects {
		for _, i := range o.Instances {
			for _, r := range i.Resources {
				for _, ri := range r.Instances {
					out = append(out, model.NewResourceInstancePath(o.ID, i.ID, r.ID, uint16(ri.Index)))
				}
			}
		}
	}
	return out
}

// RemoveCoveredPaths prunes any path in paths that is a strict descendant
// of another path also present, leaving only the most general path for
// each covered subtree.
//
// Grounded on original_source/api/src/objects_tree.c's
// ObjectsTree_RemovePathNodes; per Open Question 3 this runs on every
// write-request tree build, unconditionally.
func RemoveCoveredPaths(paths []model.Path) []model.Path {
	keep := make([]bool, len(paths))
	for i := range paths {
		keep[i] = true
	}
	for i, p := range paths {
		if !keep[i] {
			continue
		}
		for j, q := range paths {
			if i == j || !keep[j] {
				continue
			}
			if p.Depth() < q.Depth() && p.IsPrefixOf(q) {
				keep[j] = false
			}
		}
	}
	var out []model.Path
	for i, p := range paths {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
