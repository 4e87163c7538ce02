// Package coapclient is the CoAP-client edge adapter: every outbound
// CoAP request this process issues — the Client role's own
// Register/Update/Deregister against its LWM2M Server, its
// BOOTSTRAP-REQUEST against its Bootstrap Server, and the Server role's
// Device-Management forwarding to a registered client device via
// internal/ipc — goes out through here.
//
// Grounded on lwm2m_register.go's Register/Update (the connect-then-
// SendRequest-then-wait-for-ACK shape) and lwm2m_bootstrap.go's
// requestBootStrap, rebuilt on github.com/plgd-dev/go-coap/v3's client
// dialer instead of the teacher's hand-rolled Coap.SendRequest
// (SPEC_FULL.md §1: the core never imports go-coap, only this edge
// does).
package coapclient

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/regtable"
	"github.com/tamarinlabs/lwm2md/internal/router"
)

// DialTimeout bounds every outbound dial + request round trip, matching
// lwm2m_register.go's per-operation context.WithTimeout pattern.
const DialTimeout = 30 * time.Second

// Client issues outbound CoAP requests. It holds no persistent
// connections of its own — each call dials fresh, since outbound
// traffic (registration refresh, occasional Server-role forwarding) is
// infrequent enough that connection pooling isn't worth the
// bookkeeping the teacher's single long-lived lwm2m.Connection needed.
type Client struct{}

func New() *Client { return &Client{} }

func dial(ctx context.Context, addr string) (*udpclient.Conn, error) {
	co, err := udp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("coapclient: dial %s: %w", addr, err)
	}
	return co, nil
}

// Dispatch implements ipc.RemoteDispatcher: a Server-role request
// forwarded by internal/ipc to a registered client device, per §4.G's
// registration table addressing.
func (c *Client) Dispatch(rec regtable.Record, req router.Request) (router.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, rec.Address)
	if err != nil {
		return router.Response{}, err
	}
	defer co.Close()

	return do(ctx, co, req.Method, req.Path.String(), req.ContentType, req.AcceptType, req.Body)
}

// do issues one request and decodes its response. acceptType is
// currently advisory only — this device's responses are encoded per
// the target resource's own declared type rather than content
// negotiation, so no Accept option is sent outbound.
func do(ctx context.Context, co *udpclient.Conn, method router.Method, path string, contentType, acceptType codec.ContentFormat, body []byte) (router.Response, error) {
	_ = acceptType
	var bodyReader *bytes.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	var (
		resp interface {
			Code() codes.Code
			ReadBody() ([]byte, error)
			Options() message.Options
		}
		err error
	)
	switch method {
	case router.MethodGet:
		resp, err = co.Get(ctx, path)
	case router.MethodPost:
		resp, err = co.Post(ctx, path, message.MediaType(contentType), bodyReader)
	case router.MethodPut:
		resp, err = co.Put(ctx, path, message.MediaType(contentType), bodyReader)
	case router.MethodDelete:
		resp, err = co.Delete(ctx, path)
	default:
		return router.Response{}, fmt.Errorf("coapclient: unsupported method %v", method)
	}
	if err != nil {
		return router.Response{}, fmt.Errorf("coapclient: %s %s: %w", methodName(method), path, err)
	}

	respBody, _ := resp.ReadBody()
	respContentType := codec.FormatNone
	if cf, err := resp.Options().ContentFormat(); err == nil {
		respContentType = codec.ContentFormat(cf)
	}
	return router.Response{
		Code:        lwm2merr.FromCoapCode(byte(resp.Code())),
		ContentType: respContentType,
		Body:        respBody,
	}, nil
}

func methodName(m router.Method) string {
	switch m {
	case router.MethodGet:
		return "GET"
	case router.MethodPost:
		return "POST"
	case router.MethodPut:
		return "PUT"
	case router.MethodDelete:
		return "DELETE"
	default:
		return "?"
	}
}

// RequestBootstrap sends "POST /bs?ep=<endpointName>" to the bootstrap
// server at addr, matching lwm2m_bootstrap.go's requestBootStrap. It
// satisfies bootstrap.RequestFunc.
func (c *Client) RequestBootstrap(addr, endpointName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer co.Close()

	path := "/bs?ep=" + url.QueryEscape(endpointName)
	resp, err := co.Post(ctx, path, message.TextPlain, nil)
	if err != nil {
		return fmt.Errorf("coapclient: bootstrap request: %w", err)
	}
	if code := lwm2merr.FromCoapCode(byte(resp.Code())); !code.IsSuccess() {
		return fmt.Errorf("coapclient: bootstrap request rejected: %s", code)
	}
	return nil
}

// Register sends the Register operation (§5.3.1 style, per
// lwm2m_register.go) to serverAddr and returns the Location-Path the
// server assigned.
func (c *Client) Register(serverAddr, endpointName string, lifetime int, binding string, objects []codec.Link) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, serverAddr)
	if err != nil {
		return "", err
	}
	defer co.Close()

	q := url.Values{}
	q.Set("ep", endpointName)
	q.Set("lt", strconv.Itoa(lifetime))
	q.Set("lwm2m", lwm2mVersion)
	q.Set("b", binding)
	path := "/rd?" + q.Encode()

	body := codec.EncodeLinkFormat(objects)
	resp, err := co.Post(ctx, path, message.MediaType(codec.FormatLinkFormat), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("coapclient: register: %w", err)
	}
	if code := lwm2merr.FromCoapCode(byte(resp.Code())); !code.IsSuccess() {
		return "", fmt.Errorf("coapclient: register rejected: %s", code)
	}
	return locationFromOptions(resp.Options()), nil
}

// Update refreshes an existing registration at location, optionally
// carrying a new lifetime, matching lwm2m_register.go's Update.
func (c *Client) Update(serverAddr, location string, lifetime *int) error {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, serverAddr)
	if err != nil {
		return err
	}
	defer co.Close()

	path := location
	if lifetime != nil {
		path += "?lt=" + strconv.Itoa(*lifetime)
	}
	resp, err := co.Post(ctx, path, message.TextPlain, nil)
	if err != nil {
		return fmt.Errorf("coapclient: update: %w", err)
	}
	if code := lwm2merr.FromCoapCode(byte(resp.Code())); !code.IsSuccess() {
		return fmt.Errorf("coapclient: update rejected: %s", code)
	}
	return nil
}

// PutInstance sends a provisioning "PUT /O/I" write to addr, the
// server-role half of the Bootstrap interface's walk (§4.H): one PUT
// per Security/Server instance, carrying every resource under path
// already encoded by the caller.
func (c *Client) PutInstance(addr string, path model.Path, contentType codec.ContentFormat, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer co.Close()

	resp, err := do(ctx, co, router.MethodPut, path.String(), contentType, codec.FormatNone, body)
	if err != nil {
		return err
	}
	if !resp.Code.IsSuccess() {
		return fmt.Errorf("coapclient: put %s rejected: %s", path, resp.Code)
	}
	return nil
}

// FinishBootstrap sends "POST /bs" with no query to addr, the Bootstrap
// interface's Finish signal (§4.H), mirroring RequestBootstrap's shape
// with ep omitted.
func (c *Client) FinishBootstrap(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer co.Close()

	resp, err := co.Post(ctx, "/bs", message.TextPlain, nil)
	if err != nil {
		return fmt.Errorf("coapclient: bootstrap finish: %w", err)
	}
	if code := lwm2merr.FromCoapCode(byte(resp.Code())); !code.IsSuccess() {
		return fmt.Errorf("coapclient: bootstrap finish rejected: %s", code)
	}
	return nil
}

// Deregister ends the registration at location.
func (c *Client) Deregister(serverAddr, location string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()

	co, err := dial(ctx, serverAddr)
	if err != nil {
		return err
	}
	defer co.Close()

	resp, err := co.Delete(ctx, location)
	if err != nil {
		return fmt.Errorf("coapclient: deregister: %w", err)
	}
	if code := lwm2merr.FromCoapCode(byte(resp.Code())); !code.IsSuccess() {
		return fmt.Errorf("coapclient: deregister rejected: %s", code)
	}
	return nil
}

func locationFromOptions(opts message.Options) string {
	paths, err := opts.LocationPath()
	if err != nil || paths == "" {
		return ""
	}
	return "/" + paths
}

const lwm2mVersion = "1.0"
