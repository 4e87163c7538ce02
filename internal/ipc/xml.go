// Package ipc implements the collaborator-facing IPC surface (§6): an
// XML-framed UDP protocol a co-located API library speaks to the daemon
// to drive the local store (Client role) or a registered remote client
// (Server role).
//
// Grounded on DESIGN NOTES §9's "model IPC messages as IpcRequest{type,
// session, targets: [Path], payload: Tree}" — the teacher has no IPC
// surface of its own (SORACOM Inventory is CoAP-server-facing only), so
// the XML schema is new, written using encoding/xml the way
// lwm2m_resource.go already parses OMA object-definition XML (the same
// stdlib choice, no DOM library anywhere in the pack improves on it).
package ipc

import (
	"encoding/xml"
)

// requestXML is the wire shape of one incoming <Request> element.
type requestXML struct {
	XMLName xml.Name    `xml:"Request"`
	Type    string      `xml:"Type,attr"`
	Session string      `xml:"Session,attr"`
	Targets []targetXML `xml:"Targets>Target"`
	Objects objectsXML  `xml:"Objects"`
	Attrs   *attrsXML   `xml:"Attributes"`
	Arg     string      `xml:"Arg"` // base64, Execute's argument payload
}

// objectsXML captures the raw, still-encoded <LWM2M> definitions nested
// under <Objects> in a DefineObject request, so they can be split and
// handed to registry.LoadXMLBytes one at a time.
type objectsXML struct {
	Inner []byte `xml:",innerxml"`
}

type targetXML struct {
	Path   string `xml:"Path,attr"`
	Value  string `xml:"Value,attr"`
	Client string `xml:"Client,attr,omitempty"`
}

type attrsXML struct {
	Pmin *float64 `xml:"Pmin,attr"`
	Pmax *float64 `xml:"Pmax,attr"`
	Gt   *float64 `xml:"Gt,attr"`
	Lt   *float64 `xml:"Lt,attr"`
	Stp  *float64 `xml:"Stp,attr"`
}

// responseXML is the wire shape of the <Response> the daemon returns,
// per §6: "Every response carries <Response> with per-path
// <Result><Error>…</Error></Result> subnodes".
type responseXML struct {
	XMLName xml.Name     `xml:"Response"`
	Session string       `xml:"Session,attr,omitempty"`
	Results []resultXML  `xml:"Result"`
}

type resultXML struct {
	Path  string `xml:"Path,attr,omitempty"`
	Error string `xml:"Error"`
	Value string `xml:"Value,attr,omitempty"`
}

// notifyXML is the unsolicited datagram §6's Observe/Notify lifecycle
// pushes to a subscribed session.
type notifyXML struct {
	XMLName xml.Name    `xml:"Notify"`
	Session string      `xml:"Session,attr"`
	Seq     uint32      `xml:"Seq,attr"`
	Results []resultXML `xml:"Result"`
}

func decodeRequest(data []byte) (*requestXML, error) {
	req := &requestXML{}
	if err := xml.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

func encodeResponse(r *responseXML) ([]byte, error) {
	return xml.Marshal(r)
}

func encodeNotify(n *notifyXML) ([]byte, error) {
	return xml.Marshal(n)
}
