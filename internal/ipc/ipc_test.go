package ipc

import (
	"encoding/xml"
	"sync"
	"testing"

	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/registry"
	"github.com/tamarinlabs/lwm2md/internal/regtable"
	"github.com/tamarinlabs/lwm2md/internal/router"
	"github.com/tamarinlabs/lwm2md/internal/store"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []struct {
		session string
		payload []byte
	}
}

func (f *fakeTransport) Send(session string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct {
		session string
		payload []byte
	}{session, payload})
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *store.Store, *regtable.Table, *fakeTransport) {
	t.Helper()
	reg := registry.New()

	dev := &registry.ObjectDefinition{ObjectID: 3, Name: "Device", MinInstances: 1, MaxInstances: 2}
	if err := reg.RegisterObject(dev); err != nil {
		t.Fatalf("RegisterObject(Device): %v", err)
	}
	manufacturer := &registry.ResourceDefinition{ResourceID: 0, Name: "Manufacturer", Type: model.TypeString, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)}
	reboot := &registry.ResourceDefinition{ResourceID: 4, Name: "Reboot", Type: model.TypeNone, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpExecute)}
	for _, r := range []*registry.ResourceDefinition{manufacturer, reboot} {
		if err := reg.RegisterResource(3, r); err != nil {
			t.Fatalf("RegisterResource(%d): %v", r.ResourceID, err)
		}
	}

	st := store.New(reg)
	if _, err := st.CreateInstance(3, model.Invalid); err != nil {
		t.Fatalf("CreateInstance(Device): %v", err)
	}

	attrs := observe.NewStore()
	engine := observe.NewEngine(attrs, st, st, nil)
	rtr := router.New(st, attrs, engine)
	rtr.OnWrite(engine.MarkChanged)

	regtbl := regtable.New()

	srv := NewServer(rtr, reg, st, regtbl, nil)
	transport := &fakeTransport{}
	srv.SetTransport(transport)
	return srv, reg, st, regtbl, transport
}

func unmarshalResponse(t *testing.T, data []byte) responseXML {
	t.Helper()
	var resp responseXML
	if err := xml.Unmarshal(data, &resp); err != nil {
		t.Fatalf("xml.Unmarshal(response): %v, body=%s", err, data)
	}
	return resp
}

func TestHandleConnectReturnsSession(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Connect"/>`)))
	if resp.Session == "" {
		t.Fatal("expected a non-empty session id")
	}
	if len(resp.Results) != 1 || resp.Results[0].Error != "Success" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleUnknownRequestType(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Bogus"/>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "BadRequest" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleMalformedXML(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`not xml`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "BadRequest" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleGetResource(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="/3/0/0"/></Targets></Request>`)))
	if len(resp.Results) != 1 {
		t.Fatalf("got %+v", resp.Results)
	}
	if resp.Results[0].Error != "SuccessContent" {
		t.Errorf("Get /3/0/0 error = %q, want SuccessContent", resp.Results[0].Error)
	}
}

func TestHandleSetThenGetRoundTrips(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	setResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Set"><Targets><Target Path="/3/0/0" Value="Acme"/></Targets></Request>`)))
	if len(setResp.Results) != 1 || setResp.Results[0].Error != "SuccessChanged" {
		t.Fatalf("Set result = %+v", setResp.Results)
	}
	getResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="/3/0/0"/></Targets></Request>`)))
	if len(getResp.Results) != 1 || getResp.Results[0].Value != "Acme" {
		t.Fatalf("Get result after Set = %+v", getResp.Results)
	}
}

func TestHandleExecute(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Execute"><Targets><Target Path="/3/0/4"/></Targets></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "SuccessChanged" {
		t.Fatalf("Execute result = %+v", resp.Results)
	}
}

func TestHandleGetBadPath(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="not/a/path/at/all/way/too/deep"/></Targets></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "BadRequest" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleDefineObjectInstallsObject(t *testing.T) {
	srv, reg, _, _, _ := newTestServer(t)
	payload := `<Request Type="DefineObject"><Objects><LWM2M>
  <Object>
    <Name>Custom</Name>
    <ObjectID>10</ObjectID>
    <MultipleInstances>Single</MultipleInstances>
    <Mandatory>Mandatory</Mandatory>
    <Resources>
      <Item ID="0">
        <Name>Value</Name>
        <Operations>R</Operations>
        <MultipleInstances>Single</MultipleInstances>
        <Mandatory>Mandatory</Mandatory>
        <Type>String</Type>
      </Item>
    </Resources>
  </Object>
</LWM2M></Objects></Request>`
	resp := unmarshalResponse(t, srv.Handle([]byte(payload)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "Success" {
		t.Fatalf("DefineObject result = %+v", resp.Results)
	}
	if reg.LookupObject(10) == nil {
		t.Error("expected object 10 to be installed in the registry")
	}
}

func TestHandleDefineObjectPropagatesLoadError(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="DefineObject"><Objects><LWM2M><Object><Name>Bad</Name><ObjectID>notanumber</ObjectID></Object></LWM2M></Objects></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error == "Success" {
		t.Errorf("expected a non-Success error, got %+v", resp.Results)
	}
}

func TestHandleListClients(t *testing.T) {
	srv, _, _, regtbl, _ := newTestServer(t)
	if _, err := regtbl.Register("node1", "10.0.0.1:5683", 300, "U", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="ListClients"/>`)))
	if len(resp.Results) != 1 || resp.Results[0].Value != "node1" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleSubscribeFansOutRegistrationEvents(t *testing.T) {
	srv, _, _, regtbl, transport := newTestServer(t)
	connResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Connect"/>`)))
	session := connResp.Session

	subResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Subscribe" Session="`+session+`"/>`)))
	if len(subResp.Results) != 1 || subResp.Results[0].Error != "Success" {
		t.Fatalf("Subscribe result = %+v", subResp.Results)
	}

	if _, err := regtbl.Register("node1", "10.0.0.1:5683", 300, "U", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if transport.count() != 1 {
		t.Fatalf("expected one fanned-out notify, got %d", transport.count())
	}
}

func TestHandleSubscribeUnknownSession(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Subscribe" Session="nope"/>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "NotFound" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleObserveThenCancel(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	connResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Connect"/>`)))
	session := connResp.Session

	obsResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Observe" Session="`+session+`"><Targets><Target Path="/3/0/0"/></Targets></Request>`)))
	if len(obsResp.Results) != 1 || obsResp.Results[0].Error != "Success" {
		t.Fatalf("Observe result = %+v", obsResp.Results)
	}

	cancelResp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Notify" Session="`+session+`"><Targets><Target Path="/3/0/0"/></Targets></Request>`)))
	if len(cancelResp.Results) != 1 || cancelResp.Results[0].Error != "Success" {
		t.Fatalf("cancel result = %+v", cancelResp.Results)
	}
}

func TestHandleObserveUnknownSession(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Observe" Session="nope"><Targets><Target Path="/3/0/0"/></Targets></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "NotFound" {
		t.Errorf("got %+v", resp.Results)
	}
}

type fakeRemoteDispatcher struct {
	calls int
	resp  router.Response
	err   error
}

func (f *fakeRemoteDispatcher) Dispatch(rec regtable.Record, req router.Request) (router.Response, error) {
	f.calls++
	return f.resp, f.err
}

func TestHandleDeviceOpRoutesToRemoteClient(t *testing.T) {
	reg := registry.New()
	st := store.New(reg)
	attrs := observe.NewStore()
	engine := observe.NewEngine(attrs, st, st, nil)
	rtr := router.New(st, attrs, engine)
	regtbl := regtable.New()
	if _, err := regtbl.Register("node1", "10.0.0.1:5683", 300, "U", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	remote := &fakeRemoteDispatcher{resp: router.Response{Code: lwm2merr.SuccessContent, Body: []byte("Acme")}}
	srv := NewServer(rtr, reg, st, regtbl, remote)

	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="/3/0/0" Client="node1"/></Targets></Request>`)))
	if remote.calls != 1 {
		t.Fatalf("expected the remote dispatcher to be invoked once, got %d", remote.calls)
	}
	if len(resp.Results) != 1 || resp.Results[0].Error != "SuccessContent" || resp.Results[0].Value != "Acme" {
		t.Fatalf("got %+v", resp.Results)
	}
}

func TestHandleDeviceOpUnknownRemoteClient(t *testing.T) {
	reg := registry.New()
	st := store.New(reg)
	attrs := observe.NewStore()
	engine := observe.NewEngine(attrs, st, st, nil)
	rtr := router.New(st, attrs, engine)
	regtbl := regtable.New()
	srv := NewServer(rtr, reg, st, regtbl, &fakeRemoteDispatcher{})

	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="/3/0/0" Client="ghost"/></Targets></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "NotFound" {
		t.Errorf("got %+v", resp.Results)
	}
}

func TestHandleDeviceOpRemoteWithNoDispatcherConfigured(t *testing.T) {
	reg := registry.New()
	st := store.New(reg)
	attrs := observe.NewStore()
	engine := observe.NewEngine(attrs, st, st, nil)
	rtr := router.New(st, attrs, engine)
	regtbl := regtable.New()
	if _, err := regtbl.Register("node1", "10.0.0.1:5683", 300, "U", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv := NewServer(rtr, reg, st, regtbl, nil)

	resp := unmarshalResponse(t, srv.Handle([]byte(`<Request Type="Get"><Targets><Target Path="/3/0/0" Client="node1"/></Targets></Request>`)))
	if len(resp.Results) != 1 || resp.Results[0].Error != "InternalError" {
		t.Errorf("got %+v", resp.Results)
	}
}
