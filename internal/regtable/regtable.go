// Package regtable implements the server-role Registration Table
// (§4.G): Register/Update/Deregister endpoint handling, lifetime ageing,
// and event fan-out to IPC subscribers.
//
// Grounded on lwm2m_register.go's client-side Register/Update — the
// location counter, lifetime/binding parsing and CoRE-link registration
// payload this package mirrors from the server's point of view — and on
// original_source/core/src/lwm2m_registration.c's RegistrationInfo
// naming for the table's field set, since the teacher implements only
// the client half.
package regtable

import (
	"sort"
	"strings"
	"sync"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

// EventType distinguishes the three fan-out events §4.G specifies.
type EventType int

const (
	EventRegister EventType = iota
	EventUpdate
	EventDeregister
)

// Record is one registered client's bookkeeping.
type Record struct {
	Location      string
	EndpointName  string
	Address       string
	Lifetime      int
	Binding       string
	Objects       []codec.Link
	LastContactMs int64
}

// Event is dispatched to subscribers on Register/Update/Deregister.
type Event struct {
	Type   EventType
	Record Record
}

// Subscriber is a registered (sessionId, callback) pair, per §4.G's event
// fan-out; any context the callback needs travels in its closure.
type Subscriber struct {
	SessionID string
	Callback  func(Event)
}

// Table is the server-role registration table: one process-wide record
// set plus its subscriber list, per §5's "shared resources ... are all
// process-wide" scheduling note.
type Table struct {
	mu            sync.Mutex
	records       map[string]*Record // by Location
	nextLocation  int64
	subscribers   []Subscriber
}

func New() *Table {
	return &Table{records: make(map[string]*Record)}
}

// Subscribe installs a subscriber; it remains active until Unsubscribe
// releases it (typically on IPC session close, per §4.G).
func (t *Table) Subscribe(sessionID string, cb func(Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, Subscriber{SessionID: sessionID, Callback: cb})
}

// Unsubscribe releases every subscriber record owned by sessionID.
func (t *Table) Unsubscribe(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.subscribers[:0]
	for _, s := range t.subscribers {
		if s.SessionID != sessionID {
			out = append(out, s)
		}
	}
	t.subscribers = out
}

func (t *Table) fanOut(ev Event) {
	for _, s := range t.subscribers {
		s.Callback(ev)
	}
}

// Register implements "POST /rd?ep=...&lt=...&b=..." per §4.G: if ep is
// already known and the source address matches, the existing record is
// deregistered first, then a fresh record is created; if the address
// differs, Forbidden.
func (t *Table) Register(endpoint, address string, lifetime int, binding string, links []codec.Link) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for loc, r := range t.records {
		if r.EndpointName == endpoint {
			if r.Address != address {
				return nil, lwm2merr.Newf(lwm2merr.Forbidden, "endpoint %q already registered from a different address", endpoint)
			}
			delete(t.records, loc)
			t.fanOutLocked(Event{Type: EventDeregister, Record: *r})
			break
		}
	}

	t.nextLocation++
	loc := locationName(t.nextLocation)
	rec := &Record{
		Location:     loc,
		EndpointName: endpoint,
		Address:      address,
		Lifetime:     lifetime,
		Binding:      binding,
		Objects:      links,
	}
	t.records[loc] = rec
	t.fanOutLocked(Event{Type: EventRegister, Record: *rec})
	return rec, nil
}

func (t *Table) fanOutLocked(ev Event) {
	t.mu.Unlock()
	t.fanOut(ev)
	t.mu.Lock()
}

func locationName(n int64) string {
	var b strings.Builder
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	for n > 0 {
		b.WriteByte(alphabet[n%int64(len(alphabet))])
		n /= int64(len(alphabet))
	}
	s := b.String()
	runes := []byte(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// Update implements "PUT|POST /rd/<location>?lt=...&b=..." per §4.G.
func (t *Table) Update(location string, lifetime *int, binding string, links []codec.Link, nowMs int64) (*Record, error) {
	t.mu.Lock()
	rec, ok := t.records[location]
	if !ok {
		t.mu.Unlock()
		return nil, lwm2merr.Newf(lwm2merr.NotFound, "registration %q not found", location)
	}
	if lifetime != nil {
		rec.Lifetime = *lifetime
	}
	if binding != "" {
		rec.Binding = binding
	}
	if links != nil {
		rec.Objects = links
	}
	rec.LastContactMs = nowMs
	snapshot := *rec
	t.mu.Unlock()

	t.fanOut(Event{Type: EventUpdate, Record: snapshot})
	return rec, nil
}

// Deregister implements "DELETE /rd/<location>".
func (t *Table) Deregister(location string) error {
	t.mu.Lock()
	rec, ok := t.records[location]
	if !ok {
		t.mu.Unlock()
		return lwm2merr.Newf(lwm2merr.NotFound, "registration %q not found", location)
	}
	delete(t.records, location)
	snapshot := *rec
	t.mu.Unlock()

	t.fanOut(Event{Type: EventDeregister, Record: snapshot})
	return nil
}

// Get looks up a registration by location.
func (t *Table) Get(location string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[location]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// ByEndpoint looks up a registration by client endpoint name, used to
// route a Server-role device-management request at a referenced client.
func (t *Table) ByEndpoint(endpoint string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		if r.EndpointName == endpoint {
			return *r, true
		}
	}
	return Record{}, false
}

// All returns every active registration, sorted by location.
func (t *Table) All() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
	return out
}

// Tick implements §4.G's lifetime ageing: a 1 Hz tick compares
// nowMs-lastContactMs to lifetime*1000; on expiry the record is removed
// and a Deregister event is dispatched.
func (t *Table) Tick(nowMs int64) {
	t.mu.Lock()
	var expired []*Record
	for loc, r := range t.records {
		if nowMs-r.LastContactMs >= int64(r.Lifetime)*1000 {
			expired = append(expired, r)
			delete(t.records, loc)
		}
	}
	t.mu.Unlock()

	for _, r := range expired {
		t.fanOut(Event{Type: EventDeregister, Record: *r})
	}
}
