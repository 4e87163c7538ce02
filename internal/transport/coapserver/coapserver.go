// Package coapserver is the CoAP-server edge adapter for this
// process's Client role (§4's Device Management / Information
// Reporting / Bootstrap interfaces, server-facing side): it accepts
// inbound CoAP requests from whichever LWM2M Server or Bootstrap
// Server this device is provisioned against, decodes each into a
// router.Request, and re-encodes the router.Response onto the wire. It
// also implements observe.Notifier, pushing unsolicited NON
// notifications to whichever peer is still holding an observation open.
//
// Grounded on coap.go's Coap (Initialize spawns a reader goroutine that
// hands each decoded CoapMessage to a callback; SendRelatedMessage
// pushes an unsolicited same-token message for Notify), rebuilt on
// github.com/plgd-dev/go-coap/v3's mux server instead of the teacher's
// hand-rolled RFC 7252 framing (SPEC_FULL.md §1: the core package never
// imports go-coap, only this edge does).
package coapserver

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/obslog"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/router"
)

// Listener owns the CoAP-server UDP socket. go-coap's own accept loop
// runs in a background goroutine (the same shape as ReadCoapMessage's
// reader goroutine); every decoded request is serialized through a
// single mutex before reaching router.Dispatch, so the core's
// mutex-free store/router state is never touched from two goroutines
// at once (SPEC_FULL.md §5's single-threaded cooperative model).
type Listener struct {
	dispatchMu sync.Mutex
	rtr        *router.Router
	log        *obslog.Logger
	origin     router.Origin
	reg        RegistrationHandler

	connsMu sync.Mutex
	conns   map[observe.Address]*udpclient.Conn

	listener *coapnet.UDPConn
	server   *udp.Server
}

// RegistrationHandler intercepts the Registration ("/rd"...) and
// Bootstrap ("/bs") interfaces ahead of the ordinary numeric-path
// Device Management dispatch — those two interfaces address fixed,
// non-numeric CoAP paths that codec.ParsePath cannot decode into a
// model.Path, so cmd/lwm2md wires regtable/bootstrap handling in here
// rather than through router.Dispatch. path is the raw Uri-Path with
// any leading "/" trimmed (e.g. "rd", "rd/5a3f", "bs").
type RegistrationHandler interface {
	HandleRD(w mux.ResponseWriter, r *mux.Message, path string)
	HandleBS(w mux.ResponseWriter, r *mux.Message, path string)
}

// Option configures a Listener at construction.
type Option func(*Listener)

// WithOrigin fixes the router.Origin every inbound request on this
// socket is tagged with — a client binds one socket per configured
// peer (its LWM2M Server, or its Bootstrap Server during bootstrap),
// so the origin is a property of which socket a request arrived on,
// not something CoAP itself carries.
func WithOrigin(o router.Origin) Option {
	return func(l *Listener) { l.origin = o }
}

// WithRegistration installs the Registration/Bootstrap interface
// handler, checked against every inbound request's path before it falls
// through to the ordinary router.Dispatch path.
func WithRegistration(h RegistrationHandler) Option {
	return func(l *Listener) { l.reg = h }
}

// Listen opens addr and starts serving CoAP requests against rtr.
func Listen(addr string, rtr *router.Router, log *obslog.Logger, opts ...Option) (*Listener, error) {
	l := &Listener{
		rtr:    rtr,
		log:    log,
		origin: router.OriginServer,
		conns:  make(map[observe.Address]*udpclient.Conn),
	}
	for _, opt := range opts {
		opt(l)
	}

	ln, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("coapserver: listen %s: %w", addr, err)
	}
	l.listener = ln

	mr := mux.NewRouter()
	mr.DefaultHandleFunc(l.handle)

	l.server = udp.NewServer(options.WithMux(mr), options.WithOnNewConn(l.trackConn))
	go func() {
		if err := l.server.Serve(ln); err != nil {
			l.log.WithError(err).Warn("coapserver: accept loop exited")
		}
	}()
	return l, nil
}

// Close shuts down the socket and its accept loop.
func (l *Listener) Close() error {
	l.server.Stop()
	return l.listener.Close()
}

// trackConn remembers each peer's connection under options.WithOnNewConn
// so Notify can reach it later without a fresh inbound request to hang
// the response off of.
func (l *Listener) trackConn(cc *udpclient.Conn) {
	addr := observe.Address(cc.RemoteAddr().String())
	l.connsMu.Lock()
	l.conns[addr] = cc
	l.connsMu.Unlock()
}

func (l *Listener) handle(w mux.ResponseWriter, r *mux.Message) {
	if l.reg != nil {
		if raw, err := r.Path(); err == nil {
			path := strings.TrimPrefix(raw, "/")
			switch {
			case path == "bs":
				l.reg.HandleBS(w, r, path)
				return
			case path == "rd" || strings.HasPrefix(path, "rd/"):
				l.reg.HandleRD(w, r, path)
				return
			}
		}
	}

	req, err := DecodeRequest(r, w.Conn().RemoteAddr().String(), l.origin)
	if err != nil {
		l.log.WithError(err).Debug("coapserver: dropping malformed request")
		_ = w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}

	l.dispatchMu.Lock()
	resp := l.rtr.Dispatch(req)
	l.dispatchMu.Unlock()

	WriteResponse(w, resp, l.log)
}

// DecodeRequest translates an inbound go-coap mux.Message into the
// neutral router.Request surface — shared by coapserver's plain-UDP
// listener and dtlslisten's DTLS-secured one, since go-coap/v3's mux
// types are identical across transports and only the underlying Conn
// differs.
func DecodeRequest(r *mux.Message, peerAddr string, origin router.Origin) (router.Request, error) {
	path, err := r.Path()
	if err != nil {
		return router.Request{}, fmt.Errorf("coapserver: missing Uri-Path: %w", err)
	}
	p, err := codec.ParsePath(path)
	if err != nil {
		return router.Request{}, fmt.Errorf("coapserver: %w", err)
	}

	method, err := methodFromCode(r.Code())
	if err != nil {
		return router.Request{}, err
	}

	body, err := r.ReadBody()
	if err != nil {
		body = nil
	}

	contentType := codec.FormatNone
	if cf, err := r.Options().ContentFormat(); err == nil {
		contentType = codec.ContentFormat(cf)
	}
	acceptType := codec.FormatNone
	if acc, err := r.Options().Accept(); err == nil {
		acceptType = codec.ContentFormat(acc)
	}

	var obs *bool
	if v, err := r.Options().Observe(); err == nil {
		register := v == 0
		obs = &register
	}

	query := map[string]string{}
	if qs, err := r.Options().Queries(); err == nil {
		for _, q := range qs {
			k, v, _ := bytesCut(q, '=')
			query[k] = v
		}
	}

	return router.Request{
		Method:      method,
		Path:        p,
		Query:       query,
		Token:       append([]byte(nil), r.Token()...),
		Address:     observe.Address(peerAddr),
		AcceptType:  acceptType,
		ContentType: contentType,
		Body:        body,
		Observe:     obs,
		Origin:      origin,
	}, nil
}

func bytesCut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func methodFromCode(c codes.Code) (router.Method, error) {
	switch c {
	case codes.GET:
		return router.MethodGet, nil
	case codes.POST:
		return router.MethodPost, nil
	case codes.PUT:
		return router.MethodPut, nil
	case codes.DELETE:
		return router.MethodDelete, nil
	default:
		return 0, fmt.Errorf("coapserver: unsupported method code %v", c)
	}
}

// WriteResponse re-serializes a router.Response onto the wire — shared
// by coapserver and dtlslisten for the same reason DecodeRequest is.
func WriteResponse(w mux.ResponseWriter, resp router.Response, log *obslog.Logger) {
	opts := make(message.Options, 0, 1)
	if resp.LocationRaw != "" {
		opts = append(opts, LocationPathOption(resp.LocationRaw)...)
	}
	var body *bytes.Reader
	if len(resp.Body) > 0 {
		body = bytes.NewReader(resp.Body)
	}
	code := codes.Code(resp.Code.CoapCode())
	if body == nil {
		if err := w.SetResponse(code, message.TextPlain); err != nil {
			log.WithError(err).Debug("coapserver: writing empty response")
		}
		return
	}
	if err := w.SetResponse(code, message.MediaType(resp.ContentType), body, opts...); err != nil {
		log.WithError(err).Debug("coapserver: writing response")
	}
}

// LocationPathOption renders a Location-Path split on '/' per RFC 7252
// §5.10.7 — used by Create's response (§4.C) and internal/regif's
// Register response (§4.G).
func LocationPathOption(raw string) message.Options {
	var opts message.Options
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '/' {
			if i > start {
				opts = append(opts, message.Option{ID: message.LocationPath, Value: []byte(raw[start:i])})
			}
			start = i + 1
		}
	}
	return opts
}

// Notify implements observe.Notifier: pushes a NON-confirmable message
// carrying the Observe sequence number to the peer tracked under addr,
// mirroring coap.go's SendRelatedMessage (same token, new message id).
func (l *Listener) Notify(addr observe.Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error {
	l.connsMu.Lock()
	conn, ok := l.conns[addr]
	l.connsMu.Unlock()
	if !ok {
		return lwm2merr.Newf(lwm2merr.NotFound, "coapserver: no tracked connection for %s", addr)
	}

	msg := conn.AcquireMessage(context.Background())
	defer conn.ReleaseMessage(msg)
	msg.SetCode(codes.Content)
	msg.SetToken(token)
	msg.SetObserve(seq)
	msg.SetContentFormat(message.MediaType(format))
	msg.SetBody(bytes.NewReader(body))
	return conn.WriteMessage(msg)
}
