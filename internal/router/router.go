// Package router implements the Endpoint Router and Request-Origin
// Policy (§4.E, §4.I): the neutral (method, path, query, token,
// acceptType, contentType, body) request surface that every transport
// edge (CoAP, bootstrap, IPC) dispatches into, all-or-nothing tree
// commit, and the Client/Server/BootstrapServer authorization matrix.
//
// Grounded on lwm2m.go's ReceiveMessage dispatch-by-CoAP-code switch and
// lwm2m_device_management.go's ReadRequest/WriteRequest/ExecuteRequest
// family, generalized from a handler-interface dispatch into a
// path-table dispatch with full method semantics (Discover,
// Write-Attributes, replace-write, recursive bootstrap delete) that the
// teacher's restricted client-only implementation never needed.
package router

import (
	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/store"
	"github.com/tamarinlabs/lwm2md/internal/tree"
)

// Method is the CoAP method the request arrived as.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	// MethodCreate is the IPC-only Create contract (§6): unlike a CoAP
	// POST, which is only ever a Create at object depth, an IPC Create
	// target may also name an explicit instance path, per scenario
	// S1's "CREATE /10000/0".
	MethodCreate
)

// Origin is the three-way request-origin policy axis from §4.I.
type Origin int

const (
	OriginClient Origin = iota
	OriginServer
	OriginBootstrapServer
)

// Request is the neutral request surface every transport edge builds.
type Request struct {
	Method      Method
	Path        model.Path
	Query       map[string]string
	Token       []byte
	Address     observe.Address
	ServerID    uint16
	AcceptType  codec.ContentFormat
	ContentType codec.ContentFormat
	Body        []byte
	Observe     *bool // nil: no Observe option; true: register; false: cancel
	Origin      Origin
}

// Response is the neutral result the transport edge re-serializes onto
// the wire.
type Response struct {
	Code        lwm2merr.Code
	ContentType codec.ContentFormat
	Body        []byte
	LocationRaw string // set by Create, rendered as Location-Path
}

func errResponse(err error) Response {
	return Response{Code: lwm2merr.CodeOf(err)}
}

// securityObjectID is the well-known LWM2M Security object id; the
// origin policy singles it out.
const securityObjectID = 0

// Router binds a Store, the write-attribute/observation engine, and
// dispatches requests per §4.E/§4.I.
type Router struct {
	store   *store.Store
	attrs   *observe.Store
	engine  *observe.Engine
	onWrite func(model.Path)
}

func New(s *store.Store, attrs *observe.Store, engine *observe.Engine) *Router {
	return &Router{store: s, attrs: attrs, engine: engine}
}

// OnWrite installs a hook invoked after every committed write, used to
// wire the observation engine's MarkChanged without this package
// importing a concrete notifier.
func (r *Router) OnWrite(fn func(model.Path)) { r.onWrite = fn }

// Dispatch routes req per §4.E's method table, applying the §4.I origin
// check before any mutation.
func (r *Router) Dispatch(req Request) Response {
	switch req.Method {
	case MethodGet:
		return r.handleGet(req)
	case MethodPost:
		return r.handlePost(req)
	case MethodPut:
		return r.handlePut(req)
	case MethodDelete:
		return r.handleDelete(req)
	case MethodCreate:
		return r.handleCreate(req)
	default:
		return Response{Code: lwm2merr.MethodNotAllowed}
	}
}

func (r *Router) handleGet(req Request) Response {
	if req.AcceptType == codec.FormatLinkFormat {
		return r.discover(req)
	}
	if err := authorizeRead(req); err != nil {
		return errResponse(err)
	}
	paths, err := r.store.ReadSubtree(req.Path)
	if err != nil {
		return errResponse(err)
	}
	if req.Observe != nil {
		if *req.Observe {
			accept := codec.NegotiateAccept(req.AcceptType, req.Path.Depth() < 3 || len(paths) > 1)
			r.engine.Observe(req.Address, req.Token, req.ServerID, req.Path, accept, paths, 0)
		} else {
			r.engine.CancelByPath(req.Address, req.Path)
		}
	}
	accept := codec.NegotiateAccept(req.AcceptType, req.Path.Depth() < 3 || len(paths) > 1)
	body, err := codec.Encode(accept, req.Path, paths, r.store)
	if err != nil {
		return errResponse(err)
	}
	return Response{Code: lwm2merr.SuccessContent, ContentType: accept, Body: body}
}

func (r *Router) discover(req Request) Response {
	if err := authorizeRead(req); err != nil {
		return errResponse(err)
	}
	paths, err := r.store.ReadSubtree(req.Path)
	if err != nil {
		return errResponse(err)
	}
	seen := map[model.Path]bool{}
	var links []codec.Link
	for _, p := range paths {
		anc := ancestorsAtOrBelow(req.Path, p)
		for _, a := range anc {
			if seen[a] {
				continue
			}
			seen[a] = true
			links = append(links, codec.Link{Path: a})
		}
	}
	return Response{Code: lwm2merr.SuccessContent, ContentType: codec.FormatLinkFormat, Body: codec.EncodeLinkFormat(links)}
}

// ancestorsAtOrBelow returns every path from base down to leaf inclusive
// (e.g. base=/3, leaf=/3/0/1 → [/3/0, /3/0/1]).
func ancestorsAtOrBelow(base, leaf model.Path) []model.Path {
	var out []model.Path
	if base.InstanceID == model.Invalid {
		out = append(out, model.NewInstancePath(uint16(leaf.ObjectID), uint16(leaf.InstanceID)))
	}
	if base.ResourceID == model.Invalid && leaf.ResourceID != model.Invalid {
		out = append(out, model.NewResourcePath(uint16(leaf.ObjectID), uint16(leaf.InstanceID), uint16(leaf.ResourceID)))
	}
	return out
}

func (r *Router) handlePost(req Request) Response {
	if req.Path.Depth() == 1 {
		return r.create(req)
	}

	rdef := r.store.Registry().LookupResource(uint16(req.Path.ObjectID), uint16(req.Path.ResourceID))
	if req.Path.Depth() >= 3 && rdef != nil && rdef.Operations.Has(model.OpExecute) {
		if err := authorizeExecute(req); err != nil {
			return errResponse(err)
		}
		if err := r.store.ExecuteResource(uint16(req.Path.ObjectID), uint16(req.Path.InstanceID), uint16(req.Path.ResourceID), req.Body); err != nil {
			return errResponse(err)
		}
		return Response{Code: lwm2merr.SuccessChanged}
	}
	return r.partialWrite(req)
}

// handleCreate serves the IPC-only Create contract (§6), which allows
// an explicit instance-depth target in addition to the CoAP-style
// object-depth form POST already serves via create().
func (r *Router) handleCreate(req Request) Response {
	switch req.Path.Depth() {
	case 1:
		return r.create(req)
	case 2:
		return r.createInstance(req)
	default:
		return Response{Code: lwm2merr.MethodNotAllowed}
	}
}

// createInstance creates the specific instance named by req.Path (rather
// than one allocated or read out of the payload), then commits any
// resource values the payload supplies.
func (r *Router) createInstance(req Request) Response {
	if err := authorizeCreate(req); err != nil {
		return errResponse(err)
	}
	var nodes []codec.Node
	if len(req.Body) > 0 {
		var err error
		nodes, err = codec.Decode(req.ContentType, req.Path, req.Body, r.store)
		if err != nil {
			return errResponse(err)
		}
	}
	id, err := r.store.CreateInstance(uint16(req.Path.ObjectID), int32(req.Path.InstanceID))
	if err != nil {
		return errResponse(err)
	}
	if err := r.commitNodes(req, nodes); err != nil {
		_ = r.store.DeleteInstance(uint16(req.Path.ObjectID), id)
		return errResponse(err)
	}
	return Response{
		Code:        lwm2merr.SuccessCreated,
		LocationRaw: model.NewInstancePath(uint16(req.Path.ObjectID), id).String(),
	}
}

func (r *Router) create(req Request) Response {
	if err := authorizeCreate(req); err != nil {
		return errResponse(err)
	}
	nodes, err := codec.Decode(req.ContentType, req.Path, req.Body, r.store)
	if err != nil {
		return errResponse(err)
	}
	instanceID := model.Invalid
	for _, n := range nodes {
		if n.Path.InstanceID != model.Invalid {
			instanceID = n.Path.InstanceID
			break
		}
	}
	id, err := r.store.CreateInstance(uint16(req.Path.ObjectID), instanceID)
	if err != nil {
		return errResponse(err)
	}
	if err := r.commitNodes(req, nodes); err != nil {
		_ = r.store.DeleteInstance(uint16(req.Path.ObjectID), id)
		return errResponse(err)
	}
	return Response{
		Code:        lwm2merr.SuccessCreated,
		LocationRaw: model.NewInstancePath(uint16(req.Path.ObjectID), id).String(),
	}
}

// partialWrite adds or replaces only the resource-instances named in
// the payload, leaving the rest of the target node untouched, per §4.E's
// POST-as-partial-write rule.
func (r *Router) partialWrite(req Request) Response {
	if err := authorizeWrite(req); err != nil {
		return errResponse(err)
	}
	nodes, err := codec.Decode(req.ContentType, req.Path, req.Body, r.store)
	if err != nil {
		return errResponse(err)
	}
	if err := r.commitNodes(req, nodes); err != nil {
		return errResponse(err)
	}
	return Response{Code: lwm2merr.SuccessChanged}
}

func (r *Router) handlePut(req Request) Response {
	if len(req.Body) == 0 && len(req.Query) > 0 {
		return r.writeAttributes(req)
	}
	return r.replaceWrite(req)
}

// replaceWrite is modeled as delete-then-create per §4.I: the target
// node is removed (if present) and rebuilt from the payload, and
// authorization is checked against the composite operation.
func (r *Router) replaceWrite(req Request) Response {
	if err := authorizeReplace(req); err != nil {
		return errResponse(err)
	}
	nodes, err := codec.Decode(req.ContentType, req.Path, req.Body, r.store)
	if err != nil {
		return errResponse(err)
	}

	switch req.Path.Depth() {
	case 2:
		if r.store.DeleteInstance(uint16(req.Path.ObjectID), uint16(req.Path.InstanceID)) == nil {
			r.engine.CancelCoveredBy(req.Path)
		}
		if _, err := r.store.CreateInstance(uint16(req.Path.ObjectID), int32(req.Path.InstanceID)); err != nil {
			return errResponse(err)
		}
	case 3:
		if err := r.store.ClearResourceInstances(uint16(req.Path.ObjectID), uint16(req.Path.InstanceID), uint16(req.Path.ResourceID)); err != nil {
			return errResponse(err)
		}
		r.engine.CancelCoveredBy(req.Path)
	}
	if err := r.commitNodes(req, nodes); err != nil {
		return errResponse(err)
	}
	return Response{Code: lwm2merr.SuccessChanged}
}

func (r *Router) writeAttributes(req Request) Response {
	if err := authorizeWrite(req); err != nil {
		return errResponse(err)
	}
	attrs, err := parseAttributeQuery(req.Query)
	if err != nil {
		return errResponse(err)
	}
	if err := r.attrs.Set(req.ServerID, req.Path, attrs); err != nil {
		return errResponse(err)
	}
	return Response{Code: lwm2merr.SuccessChanged}
}

func (r *Router) handleDelete(req Request) Response {
	if req.Path.Depth() == 0 {
		return r.deleteAll(req)
	}
	if req.Path.Depth() == 3 {
		if err := authorizeDeleteResource(req); err != nil {
			return errResponse(err)
		}
		if err := r.store.DeleteResource(uint16(req.Path.ObjectID), uint16(req.Path.InstanceID), uint16(req.Path.ResourceID)); err != nil {
			return errResponse(err)
		}
		r.engine.CancelCoveredBy(req.Path)
		return Response{Code: lwm2merr.SuccessDeleted}
	}
	if err := authorizeDelete(req); err != nil {
		return errResponse(err)
	}
	if def := r.store.Registry().LookupObject(uint16(req.Path.ObjectID)); def != nil && def.Mandatory() && def.SingleInstance() {
		if ids, _ := r.store.ListInstanceIDs(uint16(req.Path.ObjectID)); len(ids) == 1 && ids[0] == uint16(req.Path.InstanceID) {
			return Response{Code: lwm2merr.MethodNotAllowed}
		}
	}
	if err := r.store.DeleteInstance(uint16(req.Path.ObjectID), uint16(req.Path.InstanceID)); err != nil {
		return errResponse(err)
	}
	r.engine.CancelCoveredBy(req.Path)
	return Response{Code: lwm2merr.SuccessDeleted}
}

// deleteAll is the "DELETE /" bootstrap-only recursive delete that
// spares the Security object, per §4.E rule 3.
func (r *Router) deleteAll(req Request) Response {
	if req.Origin != OriginBootstrapServer {
		return Response{Code: lwm2merr.Unauthorized}
	}
	for _, objectID := range r.store.ListObjectIDs() {
		if objectID == securityObjectID {
			continue
		}
		ids, err := r.store.ListInstanceIDs(objectID)
		if err != nil {
			continue
		}
		for _, instanceID := range ids {
			_ = r.store.DeleteInstance(objectID, instanceID)
		}
	}
	return Response{Code: lwm2merr.SuccessDeleted}
}

// commitNodes applies every decoded leaf, after pruning any path a more
// general path in the same payload already covers (Open Question 3: a
// payload that names both a resource and one of its resource-instances
// commits only the more general one). Every leaf is first checked against
// its definition (defined and writable), so a payload that fails those
// checks commits nothing. A failure during the writes themselves (a
// missing instance, a handler error) leaves the earlier writes of the
// payload in place: create and createInstance then delete the instance
// they created, while partial and replace writes return the error
// without undoing anything.
func (r *Router) commitNodes(req Request, nodes []codec.Node) error {
	nodes = pruneCoveredNodes(nodes)
	for _, n := range nodes {
		rdef := r.store.Registry().LookupResource(uint16(n.Path.ObjectID), uint16(n.Path.ResourceID))
		if rdef == nil {
			return lwm2merr.Newf(lwm2merr.NotFound, "resource %d/%d not defined", n.Path.ObjectID, n.Path.ResourceID)
		}
		if !rdef.Operations.Has(model.OpWrite) {
			return lwm2merr.Newf(lwm2merr.MethodNotAllowed, "resource %d/%d is not writable", n.Path.ObjectID, n.Path.ResourceID)
		}
	}
	for _, n := range nodes {
		if err := r.store.WriteResource(
			uint16(n.Path.ObjectID), uint16(n.Path.InstanceID), uint16(n.Path.ResourceID),
			n.Path.ResourceInstance, n.Value,
		); err != nil {
			return err
		}
	}
	if r.onWrite != nil {
		for _, n := range nodes {
			r.onWrite(n.Path)
		}
	}
	return nil
}

// pruneCoveredNodes runs tree.RemoveCoveredPaths over a decoded node
// list's paths and drops any node whose path lost to a more general one.
func pruneCoveredNodes(nodes []codec.Node) []codec.Node {
	if len(nodes) < 2 {
		return nodes
	}
	paths := make([]model.Path, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path
	}
	keep := make(map[model.Path]bool, len(nodes))
	for _, p := range tree.RemoveCoveredPaths(paths) {
		keep[p] = true
	}
	out := nodes[:0]
	for _, n := range nodes {
		if keep[n.Path] {
			out = append(out, n)
		}
	}
	return out
}
