package bootstrap

import (
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

const (
	securityObjectID uint16 = 0
	serverObjectID   uint16 = 1
)

// ClientProgress is the per-client provisioning cursor §4.H describes
// as "(clientAddress, currentObjectId, currentInstanceId)".
type ClientProgress struct {
	Address            string
	CurrentObjectID    uint16
	CurrentInstanceID  uint16
	SecurityInstances  []uint16
	ServerInstances    []uint16
	securityIdx        int
	serverIdx          int
	done               bool
}

// InstanceSource supplies the configured instances of an object a
// bootstrap-server session provisions, decoupling this package from
// internal/store's concrete type.
type InstanceSource interface {
	ListInstanceIDs(objectID uint16) ([]uint16, error)
}

// PutFunc sends one "PUT /O/I" provisioning write to the client and
// reports whether it succeeded.
type PutFunc func(objectID, instanceID uint16) error

// FinishFunc sends the "POST /bs" completion signal.
type FinishFunc func() error

// Server runs the server-role bootstrap walk for up to MaxClients
// concurrent sessions, per §4.H: walk object 0 (Security) then object 1
// (Server), one PUT per instance, then POST /bs on exhaustion.
type Server struct {
	maxClients int
	sessions   map[string]*ClientProgress
	src        InstanceSource
	put        PutFunc
	finish     FinishFunc
}

func NewServer(maxClients int, src InstanceSource, put PutFunc, finish FinishFunc) *Server {
	return &Server{
		maxClients: maxClients,
		sessions:   make(map[string]*ClientProgress),
		src:        src,
		put:        put,
		finish:     finish,
	}
}

// Begin starts a new bootstrap session for address, failing with
// PayloadTooLarge if maxClients concurrent sessions are already active
// (lwm2merr has no TooManyRequests code).
func (s *Server) Begin(address string) (*ClientProgress, error) {
	if _, exists := s.sessions[address]; exists {
		return s.sessions[address], nil
	}
	if len(s.sessions) >= s.maxClients {
		return nil, lwm2merr.New(lwm2merr.PayloadTooLarge, "bootstrap: too many concurrent clients")
	}
	secIDs, err := s.src.ListInstanceIDs(securityObjectID)
	if err != nil {
		return nil, err
	}
	srvIDs, err := s.src.ListInstanceIDs(serverObjectID)
	if err != nil {
		return nil, err
	}
	p := &ClientProgress{
		Address:           address,
		SecurityInstances: secIDs,
		ServerInstances:   srvIDs,
	}
	s.sessions[address] = p
	return p, nil
}

// Advance sends the next provisioning PUT for address's session, and
// POSTs /bs once every configured instance has been sent. Returns true
// once the session has finished (successfully or on error).
func (s *Server) Advance(address string) (done bool, err error) {
	p, ok := s.sessions[address]
	if !ok {
		return true, lwm2merr.Newf(lwm2merr.NotFound, "bootstrap: no session for %s", address)
	}
	if p.done {
		return true, nil
	}

	if p.securityIdx < len(p.SecurityInstances) {
		id := p.SecurityInstances[p.securityIdx]
		p.CurrentObjectID, p.CurrentInstanceID = securityObjectID, id
		if err := s.put(securityObjectID, id); err != nil {
			delete(s.sessions, address)
			return true, err
		}
		p.securityIdx++
		return false, nil
	}
	if p.serverIdx < len(p.ServerInstances) {
		id := p.ServerInstances[p.serverIdx]
		p.CurrentObjectID, p.CurrentInstanceID = serverObjectID, id
		if err := s.put(serverObjectID, id); err != nil {
			delete(s.sessions, address)
			return true, err
		}
		p.serverIdx++
		return false, nil
	}

	if err := s.finish(); err != nil {
		delete(s.sessions, address)
		return true, err
	}
	p.done = true
	delete(s.sessions, address)
	return true, nil
}

// Progress returns the session for address, if any.
func (s *Server) Progress(address string) (*ClientProgress, bool) {
	p, ok := s.sessions[address]
	return p, ok
}
