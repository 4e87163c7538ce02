// Package model defines the LWM2M identifier space, resource types and
// operations mask shared by every other core package.
//
// Grounded on lwm2m_resource.go's lwm2mResourceType* constants and
// Lwm2mResourceDefinition, generalized into an exported enum, plus
// DESIGN NOTES §9's tagged-union Value container.
package model

import "fmt"

// Invalid is the sentinel used for an unset path component, matching
// objects_tree.c's use of -1 for "no instance"/"no resource".
const Invalid int32 = -1

// ResourceType is the closed set of LWM2M resource data types (§3).
type ResourceType byte

const (
	TypeString ResourceType = iota
	TypeOpaque
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTime
	TypeObjectLink
	TypeNone // executable-only resources carry no stored value
)

func (t ResourceType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeOpaque:
		return "Opaque"
	case TypeInteger:
		return "Integer"
	case TypeFloat:
		return "Float"
	case TypeBoolean:
		return "Boolean"
	case TypeTime:
		return "Time"
	case TypeObjectLink:
		return "ObjectLink"
	case TypeNone:
		return "None"
	default:
		return "Unknown"
	}
}

// Operation is one bit of the {Read, Write, Execute} operations mask.
type Operation byte

const (
	OpRead Operation = 1 << iota
	OpWrite
	OpExecute
)

// Mask is a bitset of Operation.
type Mask byte

func (m Mask) Has(op Operation) bool { return m&Mask(op) != 0 }

// ObjectLink is the paired (objectId, instanceId) value carried by an
// ObjectLink resource.
type ObjectLink struct {
	ObjectID   uint16
	InstanceID uint16
}

func (l ObjectLink) String() string { return fmt.Sprintf("%d:%d", l.ObjectID, l.InstanceID) }

// Path addresses up to four path components; unused trailing components
// hold Invalid. The shortest valid prefix selects an Object, Instance,
// Resource or Resource-Instance, per §3.
type Path struct {
	ObjectID         int32
	InstanceID       int32
	ResourceID       int32
	ResourceInstance int32
}

// Depth reports how many non-Invalid components the path carries.
func (p Path) Depth() int {
	switch {
	case p.ObjectID == Invalid:
		return 0
	case p.InstanceID == Invalid:
		return 1
	case p.ResourceID == Invalid:
		return 2
	case p.ResourceInstance == Invalid:
		return 3
	default:
		return 4
	}
}

func (p Path) String() string {
	s := fmt.Sprintf("/%d", p.ObjectID)
	if p.InstanceID != Invalid {
		s += fmt.Sprintf("/%d", p.InstanceID)
	}
	if p.ResourceID != Invalid {
		s += fmt.Sprintf("/%d", p.ResourceID)
	}
	if p.ResourceInstance != Invalid {
		s += fmt.Sprintf("/%d", p.ResourceInstance)
	}
	return s
}

// IsPrefixOf reports whether p is an ancestor of (or equal to) other —
// used by the router's ancestor match and by covered-path pruning.
func (p Path) IsPrefixOf(other Path) bool {
	if p.ObjectID != other.ObjectID {
		return false
	}
	if p.InstanceID == Invalid {
		return true
	}
	if p.InstanceID != other.InstanceID {
		return false
	}
	if p.ResourceID == Invalid {
		return true
	}
	if p.ResourceID != other.ResourceID {
		return false
	}
	if p.ResourceInstance == Invalid {
		return true
	}
	return p.ResourceInstance == other.ResourceInstance
}

// Equal reports whether two paths address the same node.
func (p Path) Equal(other Path) bool { return p == other }

// NewObjectPath and friends build Paths at a given depth, keeping the
// Invalid-fill boilerplate out of callers.
func NewObjectPath(o uint16) Path {
	return Path{int32(o), Invalid, Invalid, Invalid}
}
func NewInstancePath(o, i uint16) Path {
	return Path{int32(o), int32(i), Invalid, Invalid}
}
func NewResourcePath(o, i, r uint16) Path {
	return Path{int32(o), int32(i), int32(r), Invalid}
}
func NewResourceInstancePath(o, i, r, ri uint16) Path {
	return Path{int32(o), int32(i), int32(r), int32(ri)}
}
