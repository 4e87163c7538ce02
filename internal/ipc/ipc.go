package ipc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"sync"

	"github.com/google/uuid"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/registry"
	"github.com/tamarinlabs/lwm2md/internal/regtable"
	"github.com/tamarinlabs/lwm2md/internal/router"
	"github.com/tamarinlabs/lwm2md/internal/store"
)

// Transport delivers one out-of-band XML datagram to a session — the
// Notify push and the Subscribe event fan-out both go through it. The UDP
// socket itself lives in internal/ipc/listener.go; this package stays
// testable without a real net.UDPConn by accepting any Transport.
type Transport interface {
	Send(session string, payload []byte) error
}

// RemoteDispatcher forwards a device-management operation to a
// registered remote client (Server role), per §6's "a referenced
// registered client (Server role)" rule. Implemented by
// internal/transport/coapclient at the edge.
type RemoteDispatcher interface {
	Dispatch(rec regtable.Record, req router.Request) (router.Response, error)
}

// Session is one open IPC connection, per §6's "<Request Type=Connect">
// opens an IPC session, returns a session id".
type Session struct {
	ID         string
	subscribed bool
}

// Server drives the IPC surface: session lifecycle, device-management
// dispatch (Client role via the local router.Router, Server role via
// RemoteDispatcher), object definition installation, and the
// observation/subscription lifecycle.
//
// Grounded on DESIGN NOTES §9's IpcRequest{type, session, targets,
// payload} model; no teacher equivalent exists (see SPEC_FULL.md §0).
type Server struct {
	mu       sync.Mutex
	sessions map[string]*Session

	router    *router.Router
	reg       *registry.Registry
	regtbl    *regtable.Table
	store     *store.Store
	remote    RemoteDispatcher
	transport Transport

	attrs  *observe.Store
	engine *observe.Engine
}

// NewServer wires the IPC surface against the shared store/registry and
// registration table. The engine it builds is distinct from the router's
// own CoAP-facing engine (§4.F's Server-origin observations) — IPC
// observations are a separate attribute/notification domain addressed by
// IPC session id rather than CoAP peer address.
func NewServer(r *router.Router, reg *registry.Registry, s *store.Store, regtbl *regtable.Table, remote RemoteDispatcher) *Server {
	srv := &Server{
		sessions: make(map[string]*Session),
		router:   r,
		reg:      reg,
		regtbl:   regtbl,
		store:    s,
		remote:   remote,
		attrs:    observe.NewStore(),
	}
	srv.engine = observe.NewEngine(srv.attrs, s, s, notifierFunc(srv.notify))
	return srv
}

// SetTransport installs the UDP (or test-double) transport used for
// Notify pushes and Subscribe event fan-out. Separate from NewServer to
// break the listener/server construction cycle (internal/ipc/listener.go
// needs a *Server to dispatch into, and the Server needs the listener's
// connection to push unsolicited datagrams).
func (s *Server) SetTransport(t Transport) { s.transport = t }

type notifierFunc func(addr observe.Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error

func (f notifierFunc) Notify(addr observe.Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error {
	return f(addr, token, seq, format, body)
}

func (s *Server) notify(addr observe.Address, token []byte, seq uint32, _ codec.ContentFormat, body []byte) error {
	if s.transport == nil {
		return nil
	}
	n := &notifyXML{Session: string(addr), Seq: seq, Results: []resultXML{{Value: base64.StdEncoding.EncodeToString(body)}}}
	payload, err := encodeNotify(n)
	if err != nil {
		return err
	}
	_ = token // the IPC transport addresses by session id, not a CoAP token
	return s.transport.Send(string(addr), payload)
}

// Tick drives the IPC-domain observation engine, per §5's cooperative
// tick. The router's own engine is ticked separately by the daemon's
// event loop.
func (s *Server) Tick(nowMs int64) { s.engine.Tick(nowMs) }

// Handle decodes one inbound datagram and returns the XML response to
// write back.
func (s *Server) Handle(data []byte) []byte {
	req, err := decodeRequest(data)
	if err != nil {
		resp, _ := encodeResponse(&responseXML{Results: []resultXML{{Error: lwm2merr.BadRequest.String()}}})
		return resp
	}

	var resp responseXML
	switch req.Type {
	case "Connect":
		resp = s.handleConnect()
	case "DefineObject":
		resp = s.handleDefineObject(req)
	case "Get":
		resp = s.handleDeviceOp(req, router.MethodGet)
	case "Set":
		resp = s.handleDeviceOp(req, router.MethodPost)
	case "Delete":
		resp = s.handleDeviceOp(req, router.MethodDelete)
	case "Create":
		resp = s.handleDeviceOp(req, router.MethodCreate)
	case "Execute":
		resp = s.handleExecute(req)
	case "Subscribe":
		resp = s.handleSubscribe(req)
	case "Observe":
		resp = s.handleObserve(req)
	case "Notify":
		resp = s.handleCancelObserve(req)
	case "ListClients":
		resp = s.handleListClients()
	default:
		resp = responseXML{Results: []resultXML{{Error: lwm2merr.BadRequest.String()}}}
	}
	if resp.Session == "" {
		resp.Session = req.Session
	}
	out, err := encodeResponse(&resp)
	if err != nil {
		out, _ = encodeResponse(&responseXML{Results: []resultXML{{Error: lwm2merr.InternalError.String()}}})
	}
	return out
}

func (s *Server) handleConnect() responseXML {
	sess := &Session{ID: uuid.NewString()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return responseXML{Session: sess.ID, Results: []resultXML{{Error: lwm2merr.Success.String(), Value: sess.ID}}}
}

func (s *Server) requireSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

func (s *Server) handleDefineObject(req *requestXML) responseXML {
	docs, err := splitLWM2MDocuments(req.Objects.Inner)
	if err != nil {
		return responseXML{Results: []resultXML{{Error: lwm2merr.BadRequest.String()}}}
	}
	var results []resultXML
	for _, doc := range docs {
		if err := registry.LoadXMLBytes(s.reg, doc); err != nil {
			results = append(results, resultXML{Error: lwm2merr.CodeOf(err).String()})
			continue
		}
		results = append(results, resultXML{Error: lwm2merr.Success.String()})
	}
	return responseXML{Results: results}
}

// splitLWM2MDocuments scans data for sibling top-level <LWM2M>...</LWM2M>
// elements, since a DefineObject payload may describe more than one
// object in a single request ("<Objects>…" per §6).
func splitLWM2MDocuments(data []byte) ([][]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var docs [][]byte
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "LWM2M" {
			var buf lwm2mRawBuffer
			if err := dec.DecodeElement(&buf, &se); err != nil {
				return nil, err
			}
			doc := append([]byte("<LWM2M>"), buf.Raw...)
			doc = append(doc, []byte("</LWM2M>")...)
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// lwm2mRawBuffer re-serializes one decoded <LWM2M> element back into raw
// bytes so registry.LoadXMLBytes (which expects a standalone document)
// can parse it the same way it parses a models/*.xml file.
type lwm2mRawBuffer struct {
	XMLName xml.Name `xml:"LWM2M"`
	Raw     []byte   `xml:",innerxml"`
}

func (s *Server) handleDeviceOp(req *requestXML, method router.Method) responseXML {
	var results []resultXML
	for _, t := range req.Targets {
		path, err := codec.ParsePath(t.Path)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.BadRequest.String()})
			continue
		}
		rreq := router.Request{
			Method:      method,
			Path:        path,
			Origin:      router.OriginClient,
			ContentType: codec.FormatText,
			AcceptType:  codec.FormatText,
			Body:        []byte(t.Value),
		}
		rresp, err := s.dispatch(t.Client, rreq)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.CodeOf(err).String()})
			continue
		}
		results = append(results, resultXML{Path: t.Path, Error: rresp.Code.String(), Value: string(rresp.Body)})
	}
	return responseXML{Results: results}
}

func (s *Server) handleExecute(req *requestXML) responseXML {
	var results []resultXML
	for _, t := range req.Targets {
		path, err := codec.ParsePath(t.Path)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.BadRequest.String()})
			continue
		}
		arg, _ := base64.StdEncoding.DecodeString(req.Arg)
		rreq := router.Request{Method: router.MethodPost, Path: path, Origin: router.OriginClient, Body: arg}
		rresp, err := s.dispatch(t.Client, rreq)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.CodeOf(err).String()})
			continue
		}
		results = append(results, resultXML{Path: t.Path, Error: rresp.Code.String()})
	}
	return responseXML{Results: results}
}

// dispatch routes req either to the local router (Client role, the
// default) or, when target names a registered endpoint, to that client
// via RemoteDispatcher (Server role), per §6's "against the local store
// (Client role) or a referenced registered client (Server role)".
func (s *Server) dispatch(client string, req router.Request) (router.Response, error) {
	if client == "" {
		return s.router.Dispatch(req), nil
	}
	if s.remote == nil {
		return router.Response{}, lwm2merr.New(lwm2merr.InternalError, "ipc: no remote dispatcher configured")
	}
	rec, ok := s.regtbl.ByEndpoint(client)
	if !ok {
		return router.Response{}, lwm2merr.Newf(lwm2merr.NotFound, "ipc: client %q not registered", client)
	}
	req.Origin = router.OriginServer
	return s.remote.Dispatch(rec, req)
}

func (s *Server) handleSubscribe(req *requestXML) responseXML {
	s.mu.Lock()
	sess, ok := s.sessions[req.Session]
	if ok {
		sess.subscribed = true
	}
	s.mu.Unlock()
	if !ok {
		return responseXML{Results: []resultXML{{Error: lwm2merr.NotFound.String()}}}
	}
	s.regtbl.Subscribe(req.Session, func(ev regtable.Event) { s.fanOutRegistration(req.Session, ev) })
	return responseXML{Results: []resultXML{{Error: lwm2merr.Success.String()}}}
}

func (s *Server) fanOutRegistration(session string, ev regtable.Event) {
	if s.transport == nil {
		return
	}
	n := &notifyXML{Session: session, Results: []resultXML{{Path: ev.Record.Location, Value: ev.Record.EndpointName, Error: eventName(ev.Type)}}}
	payload, err := encodeNotify(n)
	if err != nil {
		return
	}
	_ = s.transport.Send(session, payload)
}

func eventName(t regtable.EventType) string {
	switch t {
	case regtable.EventRegister:
		return "Register"
	case regtable.EventUpdate:
		return "Update"
	case regtable.EventDeregister:
		return "Deregister"
	default:
		return "Unknown"
	}
}

// handleObserve starts an IPC-domain observation on each target, per
// §6's Observation lifecycle. The write-attribute query, if present,
// configures pacing exactly as §4.F's PUT-with-query-string does for
// CoAP observations.
func (s *Server) handleObserve(req *requestXML) responseXML {
	if !s.requireSession(req.Session) {
		return responseXML{Results: []resultXML{{Error: lwm2merr.NotFound.String()}}}
	}
	var results []resultXML
	for _, t := range req.Targets {
		path, err := codec.ParsePath(t.Path)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.BadRequest.String()})
			continue
		}
		if req.Attrs != nil {
			attrs := observe.Attributes{Pmin: req.Attrs.Pmin, Pmax: req.Attrs.Pmax, Gt: req.Attrs.Gt, Lt: req.Attrs.Lt, Stp: req.Attrs.Stp}
			if err := s.attrs.Set(0, path, attrs); err != nil {
				results = append(results, resultXML{Path: t.Path, Error: lwm2merr.CodeOf(err).String()})
				continue
			}
		}
		paths, err := s.store.ReadSubtree(path)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.CodeOf(err).String()})
			continue
		}
		accept := codec.NegotiateAccept(codec.FormatNone, path.Depth() < 3 || len(paths) > 1)
		s.engine.Observe(observe.Address(req.Session), []byte(t.Path), 0, path, accept, paths, 0)
		results = append(results, resultXML{Path: t.Path, Error: lwm2merr.Success.String()})
	}
	return responseXML{Results: results}
}

func (s *Server) handleCancelObserve(req *requestXML) responseXML {
	var results []resultXML
	for _, t := range req.Targets {
		path, err := codec.ParsePath(t.Path)
		if err != nil {
			results = append(results, resultXML{Path: t.Path, Error: lwm2merr.BadRequest.String()})
			continue
		}
		s.engine.CancelByPath(observe.Address(req.Session), path)
		results = append(results, resultXML{Path: t.Path, Error: lwm2merr.Success.String()})
	}
	return responseXML{Results: results}
}

func (s *Server) handleListClients() responseXML {
	recs := s.regtbl.All()
	results := make([]resultXML, 0, len(recs))
	for _, r := range recs {
		results = append(results, resultXML{Path: r.Location, Value: r.EndpointName, Error: lwm2merr.Success.String()})
	}
	return responseXML{Results: results}
}

