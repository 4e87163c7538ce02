// Package observe implements the Attribute Store & Observation Engine
// (§4.F): write-attribute negotiation, per-observation change detection,
// and NON-confirmable notification delivery.
//
// Grounded on lwm2m_device_management.go's Observe/NotifyInstance/
// NotifyResource/ObserveDeregister (token bookkeeping, per-tick scan,
// TLV re-encode of changed values), generalized from the teacher's
// binary "did the string differ" diff into the full pmin/pmax/gt/lt/stp
// algorithm original_source/core/src/lwm2m_registration.c's peers
// describe only in their XML serdes comments — spec.md §4.F is
// authoritative here since the teacher implements a restricted subset.
package observe

import (
	"fmt"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// Attributes is the optional write-attribute overlay for one
// (shortServerId, path) pair, per §4.F.
type Attributes struct {
	Pmin *float64
	Pmax *float64
	Gt   *float64
	Lt   *float64
	Stp  *float64
}

// Validate checks the cross-field invariants §4.E requires before
// commit: pmin ≤ pmax, and lt + 2·stp < gt when all three are set.
func (a Attributes) Validate() error {
	if a.Pmin != nil && a.Pmax != nil && *a.Pmin > *a.Pmax {
		return fmt.Errorf("observe: pmin(%v) > pmax(%v)", *a.Pmin, *a.Pmax)
	}
	if a.Gt != nil && a.Lt != nil && a.Stp != nil {
		if *a.Lt+2*(*a.Stp) >= *a.Gt {
			return fmt.Errorf("observe: lt(%v) + 2*stp(%v) >= gt(%v)", *a.Lt, *a.Stp, *a.Gt)
		}
	}
	return nil
}

// merge overlays child on top of base: any attribute child sets wins,
// otherwise base's value (possibly unset) carries through.
func merge(base, child Attributes) Attributes {
	out := base
	if child.Pmin != nil {
		out.Pmin = child.Pmin
	}
	if child.Pmax != nil {
		out.Pmax = child.Pmax
	}
	if child.Gt != nil {
		out.Gt = child.Gt
	}
	if child.Lt != nil {
		out.Lt = child.Lt
	}
	if child.Stp != nil {
		out.Stp = child.Stp
	}
	return out
}

type attrKey struct {
	serverID uint16
	path     model.Path
}

// Store is the write-attribute table keyed by (shortServerId, path),
// supporting the most-specific-wins ancestor lookup §4.F describes.
type Store struct {
	byKey map[attrKey]Attributes
}

func NewStore() *Store { return &Store{byKey: make(map[attrKey]Attributes)} }

// Set installs/validates the attribute overlay for (serverID, path). An
// empty Attributes value clears the overlay entirely (PUT with an empty
// query string resets to defaults).
func (s *Store) Set(serverID uint16, path model.Path, attrs Attributes) error {
	if err := attrs.Validate(); err != nil {
		return lwm2merr.New(lwm2merr.BadRequest, err.Error())
	}
	s.byKey[attrKey{serverID, path}] = attrs
	return nil
}

// Effective walks path's object, instance and resource levels from the
// object down, merging each overlay over the one before it, so a pmin set
// on /3 applies to /3/0/1 unless a more specific path overrides it.
func (s *Store) Effective(serverID uint16, path model.Path) Attributes {
	ancestors := []model.Path{
		model.NewObjectPath(uint16(path.ObjectID)),
	}
	if path.InstanceID != model.Invalid {
		ancestors = append(ancestors, model.NewInstancePath(uint16(path.ObjectID), uint16(path.InstanceID)))
	}
	if path.ResourceID != model.Invalid {
		ancestors = append(ancestors, model.NewResourcePath(uint16(path.ObjectID), uint16(path.InstanceID), uint16(path.ResourceID)))
	}

	var effective Attributes
	for _, p := range ancestors {
		if a, ok := s.byKey[attrKey{serverID, p}]; ok {
			effective = merge(effective, a)
		}
	}
	return effective
}
