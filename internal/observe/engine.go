package observe

import (
	"bytes"
	"sort"
	"sync"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
)

// Address identifies a peer connection the notification transport
// layer can address — opaque to this package, compared by equality.
type Address string

// Notifier sends one NON-confirmable notification for an observation.
// Implemented by internal/transport/coapserver at the edge.
type Notifier interface {
	Notify(addr Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error
}

// Observation is one active GET-with-Observe subscription.
type Observation struct {
	Address    Address
	Token      []byte
	ServerID   uint16
	Path       model.Path
	AcceptType codec.ContentFormat

	seq         uint32
	lastSentMs  int64
	lastBytes   map[model.Path][]byte
	lastNumeric map[model.Path]float64
}

// Engine drives every active Observation against a ValueSource,
// per §4.F's change-detection algorithm.
type Engine struct {
	mu    sync.Mutex
	attrs *Store
	src   codec.ValueSource
	types codec.TypeSource
	tx    Notifier

	observations []*Observation
}

func NewEngine(attrs *Store, src codec.ValueSource, types codec.TypeSource, tx Notifier) *Engine {
	return &Engine{attrs: attrs, src: src, types: types, tx: tx}
}

// Observe registers a new observation, seeding its baseline values from
// paths (the full subtree rooted at path, as read at registration time)
// so the first tick() never spuriously fires on "everything changed".
func (e *Engine) Observe(addr Address, token []byte, serverID uint16, path model.Path, accept codec.ContentFormat, paths []model.Path, nowMs int64) *Observation {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := &Observation{
		Address:     addr,
		Token:       append([]byte(nil), token...),
		ServerID:    serverID,
		Path:        path,
		AcceptType:  accept,
		lastSentMs:  nowMs,
		lastBytes:   make(map[model.Path][]byte),
		lastNumeric: make(map[model.Path]float64),
	}
	e.seedBaseline(o, paths)
	e.observations = append(e.observations, o)
	return o
}

func (e *Engine) seedBaseline(o *Observation, paths []model.Path) {
	for _, p := range paths {
		v, err := e.src.Value(p)
		if err != nil {
			continue
		}
		o.lastBytes[p] = v.Bytes()
		if n, ok := numericOf(v); ok {
			o.lastNumeric[p] = n
		}
	}
}

func numericOf(v model.Value) (float64, bool) {
	switch v.Type {
	case model.TypeInteger:
		return float64(v.Integer()), true
	case model.TypeFloat:
		return v.Float(), true
	case model.TypeTime:
		return float64(v.Time()), true
	default:
		return 0, false
	}
}

// CancelByPath removes every observation from addr whose path equals
// path; observations on ancestors or descendants of path are kept.
func (e *Engine) CancelByPath(addr Address, path model.Path) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations = filterObservations(e.observations, func(o *Observation) bool {
		return !(o.Address == addr && o.Path.Equal(path))
	})
}

// CancelCoveredBy removes every observation, from any address, whose
// path is removed or a descendant of removed — the delete/replace-write
// cancellation rule from §4.B, independent of which server issued the
// mutation.
func (e *Engine) CancelCoveredBy(removed model.Path) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations = filterObservations(e.observations, func(o *Observation) bool {
		return !removed.IsPrefixOf(o.Path)
	})
}

// CancelByToken removes the observation matching token exactly (the
// CoAP Reset-on-unknown-token deregistration path).
func (e *Engine) CancelByToken(token []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations = filterObservations(e.observations, func(o *Observation) bool {
		return !bytes.Equal(o.Token, token)
	})
}

// Observations returns a snapshot of the currently active observations,
// for inspection by callers outside this package (regif/ipc session
// teardown, tests) that need to know what survived a cancellation.
func (e *Engine) Observations() []*Observation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Observation, len(e.observations))
	copy(out, e.observations)
	return out
}

func filterObservations(in []*Observation, keep func(*Observation) bool) []*Observation {
	out := in[:0]
	for _, o := range in {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// MarkChanged is a no-op hook point: the engine recomputes change state
// lazily in Tick rather than eagerly per write, since §5's cooperative
// loop guarantees Tick runs every iteration anyway. Kept as an explicit
// call site so the store's write path documents the dependency.
func (e *Engine) MarkChanged(model.Path) {}

// Tick evaluates every observation against the change-detection
// algorithm and delivers due notifications.
func (e *Engine) Tick(nowMs int64) {
	e.mu.Lock()
	observations := append([]*Observation(nil), e.observations...)
	e.mu.Unlock()

	for _, o := range observations {
		e.evaluate(o, nowMs)
	}
}

func (e *Engine) evaluate(o *Observation, nowMs int64) {
	paths, err := subtreePaths(e.src, o.Path)
	if err != nil {
		return
	}

	eff := e.attrs.Effective(o.ServerID, o.Path)

	due := false
	if eff.Pmax != nil && *eff.Pmax > 0 && float64(nowMs-o.lastSentMs) >= *eff.Pmax*1000 {
		due = true
	} else {
		due = e.thresholdFired(o, eff, paths)
	}
	if !due {
		return
	}
	if eff.Pmin != nil && float64(nowMs-o.lastSentMs) < *eff.Pmin*1000 {
		return
	}

	e.deliver(o, paths, nowMs)
}

func (e *Engine) thresholdFired(o *Observation, eff Attributes, paths []model.Path) bool {
	usesNumeric := eff.Gt != nil || eff.Lt != nil || eff.Stp != nil
	for _, p := range paths {
		v, err := e.src.Value(p)
		if err != nil {
			continue
		}
		if usesNumeric {
			n, ok := numericOf(v)
			if !ok {
				continue
			}
			last, had := o.lastNumeric[p]
			if !had {
				return true
			}
			if eff.Gt != nil && last <= *eff.Gt && n > *eff.Gt {
				return true
			}
			if eff.Lt != nil && last >= *eff.Lt && n < *eff.Lt {
				return true
			}
			if eff.Stp != nil {
				diff := n - last
				if diff < 0 {
					diff = -diff
				}
				if diff >= *eff.Stp {
					return true
				}
			}
			continue
		}
		if !bytes.Equal(o.lastBytes[p], v.Bytes()) {
			return true
		}
	}
	return false
}

func (e *Engine) deliver(o *Observation, paths []model.Path, nowMs int64) {
	body, err := codec.Encode(o.AcceptType, o.Path, paths, e.src)
	if err != nil {
		return
	}
	o.seq++
	o.lastSentMs = nowMs
	for _, p := range paths {
		v, err := e.src.Value(p)
		if err != nil {
			continue
		}
		o.lastBytes[p] = v.Bytes()
		if n, ok := numericOf(v); ok {
			o.lastNumeric[p] = n
		}
	}
	if e.tx != nil {
		_ = e.tx.Notify(o.Address, o.Token, o.seq, o.AcceptType, body)
	}
}

// subtreePaths resolves the resource-instance leaves under path using
// whatever richer lookup e.src exposes, falling back to treating path
// itself as the only leaf — internal/store.Store satisfies the optional
// SubtreeSource interface below for the O(1)-depth cases the engine
// actually needs.
type SubtreeSource interface {
	ReadSubtree(p model.Path) ([]model.Path, error)
}

func subtreePaths(src codec.ValueSource, path model.Path) ([]model.Path, error) {
	if ss, ok := src.(SubtreeSource); ok {
		paths, err := ss.ReadSubtree(path)
		if err != nil {
			return nil, err
		}
		sort.Slice(paths, func(i, j int) bool {
			a, b := paths[i], paths[j]
			if a.ObjectID != b.ObjectID {
				return a.ObjectID < b.ObjectID
			}
			if a.InstanceID != b.InstanceID {
				return a.InstanceID < b.InstanceID
			}
			if a.ResourceID != b.ResourceID {
				return a.ResourceID < b.ResourceID
			}
			return a.ResourceInstance < b.ResourceInstance
		})
		return paths, nil
	}
	if _, err := src.Value(path); err != nil {
		return nil, lwm2merr.New(lwm2merr.NotFound, "observe: path has no value")
	}
	return []model.Path{path}, nil
}
