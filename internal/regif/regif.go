// Package regif intercepts the two CoAP interfaces that address fixed,
// non-numeric paths instead of a model.Path: the Registration interface
// ("/rd", "/rd/<location>", §4.G) and the Bootstrap interface's request
// and finish exchange ("/bs", §4.H). Both arrive through
// coapserver.RegistrationHandler/dtlslisten.WithRegistration ahead of
// the ordinary router.Dispatch path, since codec.ParsePath only
// understands the numeric /O/I/R/Ri shape.
//
// Grounded on lwm2m_register.go's server-facing Register/Update/
// Deregister encode-then-send shape (mirrored here from the receiving
// end) and lwm2m_bootstrap.go's BootstrapReceiveMessage dispatch on the
// incoming request's query string.
package regif

import (
	"strconv"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"

	"github.com/tamarinlabs/lwm2md/internal/bootstrap"
	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/obslog"
	"github.com/tamarinlabs/lwm2md/internal/regtable"
	"github.com/tamarinlabs/lwm2md/internal/transport/coapserver"
)

// NowFunc supplies the current time in epoch milliseconds, letting
// callers stamp regtable.Table.Update's LastContactMs without this
// package importing "time" directly (every other core-adjacent package
// takes its clock the same way, per daemoncfg's tick loop).
type NowFunc func() int64

// Handler implements coapserver.RegistrationHandler. A process wires in
// whichever of regtbl/bsClient/bsServer apply to the role it is
// currently running: the ordinary "run" listener only ever has regtbl
// (as a Server) or bsClient (as a Client) set, and the "bootstrap"
// listener only ever has bsServer set, per §4.I's fixed-origin-per-
// socket design.
type Handler struct {
	log *obslog.Logger
	now NowFunc

	regtbl *regtable.Table // server role: Registration interface

	bsClient   *bootstrap.Client // client role: receives BOOTSTRAP FINISH
	bsServer   *bootstrap.Server // bootstrap-server role: receives BOOTSTRAP-REQUEST
	bsAddrHook func(addr string)
}

// Option configures a Handler at construction.
type Option func(*Handler)

// WithRegistrationTable installs server-role Registration interface
// handling.
func WithRegistrationTable(t *regtable.Table) Option {
	return func(h *Handler) { h.regtbl = t }
}

// WithBootstrapClient installs client-role Bootstrap Finish handling.
func WithBootstrapClient(c *bootstrap.Client) Option {
	return func(h *Handler) { h.bsClient = c }
}

// WithBootstrapServer installs bootstrap-server-role Bootstrap-Request
// handling. hook, if non-nil, is called with the requesting client's
// address before every Begin/Advance call — bootstrap.Server's
// PutFunc/FinishFunc take no address of their own, so the caller needs
// this to know which peer the in-flight session's provisioning writes
// belong to.
func WithBootstrapServer(s *bootstrap.Server, hook func(addr string)) Option {
	return func(h *Handler) {
		h.bsServer = s
		h.bsAddrHook = hook
	}
}

func New(log *obslog.Logger, now NowFunc, opts ...Option) *Handler {
	h := &Handler{log: log, now: now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func queries(r *mux.Message) map[string]string {
	out := map[string]string{}
	qs, err := r.Options().Queries()
	if err != nil {
		return out
	}
	for _, q := range qs {
		if i := strings.IndexByte(q, '='); i >= 0 {
			out[q[:i]] = q[i+1:]
		} else {
			out[q] = ""
		}
	}
	return out
}

func writeEmpty(w mux.ResponseWriter, code codes.Code, log *obslog.Logger) {
	if err := w.SetResponse(code, message.TextPlain); err != nil {
		log.WithError(err).Debug("regif: writing response")
	}
}

func writeErr(w mux.ResponseWriter, err error, log *obslog.Logger) {
	writeEmpty(w, codes.Code(lwm2merr.CodeOf(err).CoapCode()), log)
}

// HandleRD implements the Registration interface (§4.G): POST /rd
// (Register), POST or PUT /rd/<location> (Update), DELETE
// /rd/<location> (Deregister).
func (h *Handler) HandleRD(w mux.ResponseWriter, r *mux.Message, path string) {
	if h.regtbl == nil {
		writeEmpty(w, codes.Forbidden, h.log)
		return
	}

	q := queries(r)
	addr := w.Conn().RemoteAddr().String()

	if path == "rd" {
		if r.Code() != codes.POST {
			writeEmpty(w, codes.MethodNotAllowed, h.log)
			return
		}
		h.register(w, r, q, addr)
		return
	}

	location := strings.TrimPrefix(path, "rd/")
	switch r.Code() {
	case codes.POST, codes.PUT:
		h.update(w, r, q, location)
	case codes.DELETE:
		h.deregister(w, location)
	default:
		writeEmpty(w, codes.MethodNotAllowed, h.log)
	}
}

func (h *Handler) register(w mux.ResponseWriter, r *mux.Message, q map[string]string, addr string) {
	endpoint := q["ep"]
	if endpoint == "" {
		writeEmpty(w, codes.BadRequest, h.log)
		return
	}
	lifetime, err := strconv.Atoi(q["lt"])
	if err != nil {
		lifetime = 86400
	}
	binding := q["b"]
	if binding == "" {
		binding = "U"
	}

	body, _ := r.ReadBody()
	links, err := codec.ParseLinkFormat(body)
	if err != nil {
		writeEmpty(w, codes.BadRequest, h.log)
		return
	}

	rec, err := h.regtbl.Register(endpoint, addr, lifetime, binding, links)
	if err != nil {
		writeErr(w, err, h.log)
		return
	}

	opts := coapserver.LocationPathOption(rec.Location)
	if err := w.SetResponse(codes.Created, message.TextPlain, nil, opts...); err != nil {
		h.log.WithError(err).Debug("regif: writing register response")
	}
}

func (h *Handler) update(w mux.ResponseWriter, r *mux.Message, q map[string]string, location string) {
	var lifetime *int
	if raw, ok := q["lt"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeEmpty(w, codes.BadRequest, h.log)
			return
		}
		lifetime = &n
	}
	binding := q["b"]

	var links []codec.Link
	if body, err := r.ReadBody(); err == nil && len(body) > 0 {
		parsed, err := codec.ParseLinkFormat(body)
		if err != nil {
			writeEmpty(w, codes.BadRequest, h.log)
			return
		}
		links = parsed
	}

	if _, err := h.regtbl.Update(location, lifetime, binding, links, h.now()); err != nil {
		writeErr(w, err, h.log)
		return
	}
	writeEmpty(w, codes.Changed, h.log)
}

func (h *Handler) deregister(w mux.ResponseWriter, location string) {
	if err := h.regtbl.Deregister(location); err != nil {
		writeErr(w, err, h.log)
		return
	}
	writeEmpty(w, codes.Deleted, h.log)
}

// HandleBS implements the Bootstrap interface's two non-numeric
// exchanges (§4.H): POST /bs?ep=... (BOOTSTRAP-REQUEST, received by a
// bootstrap server) and POST /bs with no query (BOOTSTRAP FINISH,
// received by the client being bootstrapped).
func (h *Handler) HandleBS(w mux.ResponseWriter, r *mux.Message, path string) {
	if r.Code() != codes.POST {
		writeEmpty(w, codes.MethodNotAllowed, h.log)
		return
	}

	q := queries(r)
	if endpoint, ok := q["ep"]; ok {
		h.handleBootstrapRequest(w, endpoint)
		return
	}
	h.handleBootstrapFinish(w)
}

func (h *Handler) handleBootstrapRequest(w mux.ResponseWriter, endpoint string) {
	if h.bsServer == nil {
		writeEmpty(w, codes.Forbidden, h.log)
		return
	}
	addr := w.Conn().RemoteAddr().String()
	if h.bsAddrHook != nil {
		h.bsAddrHook(addr)
	}
	if _, err := h.bsServer.Begin(addr); err != nil {
		writeErr(w, err, h.log)
		return
	}
	writeEmpty(w, codes.Changed, h.log)

	if _, err := h.bsServer.Advance(addr); err != nil {
		h.log.WithError(err).Warn("regif: bootstrap provisioning failed")
	}
}

func (h *Handler) handleBootstrapFinish(w mux.ResponseWriter) {
	if h.bsClient == nil {
		writeEmpty(w, codes.Forbidden, h.log)
		return
	}
	h.bsClient.OnFinish()
	writeEmpty(w, codes.Changed, h.log)
}
