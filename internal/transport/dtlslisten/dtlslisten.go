// Package dtlslisten is the DTLS-secured edge adapter (§7.1.7's
// "Pre-Shared Keys" UDP channel security mode): it builds a
// pion/dtls/v2 configuration from a Security object instance's
// identity/key resources and opens a DTLS-secured CoAP server or
// client connection, mirroring coapserver/coapclient but with the
// channel encrypted before any CoAP framing happens.
//
// Grounded on dtls.go/dtls_handshake.go's hand-rolled DTLS 1.2 record
// layer (PSK premaster-secret derivation, the mandated
// TLS_PSK_WITH_AES_128_CCM_8 cipher suite, the epoch/sequence counters)
// and lwm2m_register.go's connect (getIdentity/getSecretKey feeding a
// dial), rebuilt on github.com/pion/dtls/v2 instead of hand-rolled
// record-layer crypto (SPEC_FULL.md §1: the core never touches DTLS
// directly, only this edge does).
package dtlslisten

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v2"
	gocoapdtls "github.com/plgd-dev/go-coap/v3/dtls"
	dtlsclient "github.com/plgd-dev/go-coap/v3/dtls/client"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	"github.com/plgd-dev/go-coap/v3/options"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/obslog"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/router"
	"github.com/tamarinlabs/lwm2md/internal/transport/coapserver"
)

// handshakeTimeout matches dtls.go's dtlsHandshakeTimeout.
const handshakeTimeout = 5 * time.Second

// PSKConfig builds the pion/dtls/v2 configuration for one peer
// relationship, given the identity and secret key read out of a
// Security object instance's SecurityIdentity/SecuritySecretKey
// resources (bootstrapfile.apply.go's well-known ids).
func PSKConfig(identity, key []byte) *piondtls.Config {
	return &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return key, nil
		},
		PSKIdentityHint: identity,
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), handshakeTimeout)
		},
	}
}

// Dial opens a DTLS-secured UDP connection to addr using cfg, for the
// Client role's outbound Register/Update/bootstrap requests and the
// Server role's outbound Device-Management forwarding when the peer
// requires PSK security.
func Dial(addr string, cfg *piondtls.Config) (net.Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dtlslisten: resolve %s: %w", addr, err)
	}
	conn, err := piondtls.Dial("udp", udpAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dtlslisten: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Listener owns a DTLS-secured CoAP server socket — the same
// request/response shape as coapserver.Listener (DecodeRequest/
// WriteResponse are shared, since go-coap/v3's mux types are identical
// across transports), rebuilt on
// github.com/plgd-dev/go-coap/v3/dtls instead of its udp counterpart.
type Listener struct {
	dispatchMu sync.Mutex
	rtr        *router.Router
	log        *obslog.Logger
	origin     router.Origin
	reg        coapserver.RegistrationHandler

	connsMu sync.Mutex
	conns   map[observe.Address]*dtlsclient.Conn

	listener net.Listener
	server   *gocoapdtls.Server
}

// Option configures a Listener at construction, the same shape as
// coapserver.Option.
type Option func(*Listener)

// WithRegistration installs the Registration/Bootstrap interface
// handler, mirroring coapserver.WithRegistration.
func WithRegistration(h coapserver.RegistrationHandler) Option {
	return func(l *Listener) { l.reg = h }
}

// Listen opens addr with cfg and serves rtr's dispatch over it.
func Listen(addr string, cfg *piondtls.Config, rtr *router.Router, log *obslog.Logger, origin router.Origin, opts ...Option) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dtlslisten: resolve %s: %w", addr, err)
	}
	ln, err := piondtls.Listen("udp", udpAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dtlslisten: listen %s: %w", addr, err)
	}

	l := &Listener{
		rtr:      rtr,
		log:      log,
		origin:   origin,
		conns:    make(map[observe.Address]*dtlsclient.Conn),
		listener: ln,
	}
	for _, opt := range opts {
		opt(l)
	}

	mr := mux.NewRouter()
	mr.DefaultHandleFunc(l.handle)

	l.server = gocoapdtls.NewServer(options.WithMux(mr), options.WithOnNewConn(l.trackConn))
	go func() {
		if err := l.server.Serve(ln); err != nil {
			l.log.WithError(err).Warn("dtlslisten: accept loop exited")
		}
	}()
	return l, nil
}

// Close shuts down the DTLS listener and its accept loop.
func (l *Listener) Close() error {
	l.server.Stop()
	return l.listener.Close()
}

func (l *Listener) trackConn(cc *dtlsclient.Conn) {
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

	req, err := coapserver.DecodeRequest(r, w.Conn().RemoteAddr().String(), l.origin)
	if err != nil {
		l.log.WithError(err).Debug("dtlslisten: dropping malformed request")
		_ = w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}

	l.dispatchMu.Lock()
	resp := l.rtr.Dispatch(req)
	l.dispatchMu.Unlock()

	coapserver.WriteResponse(w, resp, l.log)
}

// Notify implements observe.Notifier over the DTLS-secured channel,
// the same shape as coapserver.Listener.Notify.
func (l *Listener) Notify(addr observe.Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error {
	l.connsMu.Lock()
	conn, ok := l.conns[addr]
	l.connsMu.Unlock()
	if !ok {
		return lwm2merr.Newf(lwm2merr.NotFound, "dtlslisten: no tracked connection for %s", addr)
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
