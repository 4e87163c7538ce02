package ipc

import (
	"encoding/xml"
	"net"

	"github.com/tamarinlabs/lwm2md/internal/obslog"
)

// Listener owns the UDP socket the IPC surface listens on, per §6's
// "XML-framed UDP" framing: one datagram in, one datagram (or zero, for
// an unsolicited Notify) out. It is the one place in this package that
// touches net directly — unlike the CoAP/DTLS edge, the IPC surface has
// no wire library to keep the core decoupled from (SPEC_FULL.md §1).
type Listener struct {
	conn *net.UDPConn
	srv  *Server
	log  *obslog.Logger

	addrs map[string]*net.UDPAddr
}

// Listen opens the IPC UDP socket on port and wires srv's outbound
// Transport to it.
func Listen(port int, srv *Server, log *obslog.Logger) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	l := &Listener{conn: conn, srv: srv, log: log, addrs: make(map[string]*net.UDPAddr)}
	srv.SetTransport(l)
	return l, nil
}

// Send implements ipc.Transport, delivering an unsolicited Notify or
// Subscribe event datagram to the session's last-known address.
func (l *Listener) Send(session string, payload []byte) error {
	addr, ok := l.addrs[session]
	if !ok {
		return nil // session closed or never sent a datagram; drop
	}
	_, err := l.conn.WriteToUDP(payload, addr)
	return err
}

// Serve drains exactly one pending datagram, dispatches it through the
// Server, and writes back the response, per §5's cooperative loop. (The
// CoAP edges instead run go-coap's own accept loop in a background
// goroutine.)
func (l *Listener) Serve() error {
	buf := make([]byte, 64*1024)
	n, addr, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return err
	}
	data := append([]byte(nil), buf[:n]...)

	resp := l.srv.Handle(data)
	if len(resp) == 0 {
		return nil
	}
	if session := sniffResponseSession(resp); session != "" {
		l.addrs[session] = addr
	}
	_, err = l.conn.WriteToUDP(resp, addr)
	if err != nil {
		l.log.WithError(err).Warn("ipc: failed writing response datagram")
	}
	return nil
}

// Close releases the UDP socket.
func (l *Listener) Close() error { return l.conn.Close() }

// sniffResponseSession reads the Session attribute back out of an
// already-encoded response, so a successful Connect's freshly minted
// session id gets mapped to the peer address that asked for it.
func sniffResponseSession(resp []byte) string {
	var r responseXML
	if err := xml.Unmarshal(resp, &r); err != nil {
		return ""
	}
	return r.Session
}
