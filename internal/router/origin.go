package router

import (
	"github.com/tamarinlabs/lwm2md/internal/lwm2merr"
)

// authorizeRead implements §4.I's Read row: everyone may read
// non-Security objects; only Client and BootstrapServer may read the
// Security object.
func authorizeRead(req Request) error {
	if req.Path.ObjectID == securityObjectID && req.Origin == OriginServer {
		return lwm2merr.New(lwm2merr.Unauthorized, "server origin cannot read the Security object")
	}
	return nil
}

// authorizeWrite implements §4.I's Write row. A Server write into the
// Security object is rejected outright; BootstrapServer bypasses the
// per-resource Write operation-mask check entirely (its writes during
// provisioning target resources the regular ops mask would otherwise
// forbid, e.g. Security resources with no Server-visible Write bit).
func authorizeWrite(req Request) error {
	switch req.Origin {
	case OriginClient, OriginBootstrapServer:
		return nil
	case OriginServer:
		if req.Path.ObjectID == securityObjectID {
			return lwm2merr.New(lwm2merr.Unauthorized, "server origin cannot write the Security object")
		}
		return nil
	default:
		return lwm2merr.New(lwm2merr.Unauthorized, "unknown origin")
	}
}

// authorizeReplace treats PUT-replace as delete-then-create per §4.I:
// checked as the composite so a Server may PUT-replace resources it
// could not DELETE individually, but still may not touch Security.
func authorizeReplace(req Request) error {
	if req.Origin == OriginServer && req.Path.ObjectID == securityObjectID {
		return lwm2merr.New(lwm2merr.Unauthorized, "server origin cannot replace-write the Security object")
	}
	return nil
}

// authorizeExecute uses the same rule as Write: Execute is gated by the
// operations mask upstream (router.handlePost already checked the
// resource carries OpExecute); origin merely rules out Security.
func authorizeExecute(req Request) error {
	if req.Origin == OriginServer && req.Path.ObjectID == securityObjectID {
		return lwm2merr.New(lwm2merr.Unauthorized, "server origin cannot execute on the Security object")
	}
	return nil
}

// authorizeCreate implements §4.I's Create row: Client and
// BootstrapServer may always create; Server creation is subject to the
// maxInstances bound, which store.CreateInstance already enforces as
// MethodNotAllowed, so no extra check is needed here beyond origin
// itself never being refused outright.
func authorizeCreate(req Request) error {
	return nil
}

// authorizeDelete implements §4.I's "Delete /O/I" row: every origin
// passes this check. Router.handleDelete then refuses, with
// MethodNotAllowed, to delete the only instance of a mandatory
// single-instance object, whatever the origin.
func authorizeDelete(req Request) error {
	return nil
}

// authorizeDeleteResource implements "Delete /O/I/R … only accepted
// from Client or Bootstrap origins" — a Server-origin DELETE at
// resource depth is rejected outright (it may still replace-write).
func authorizeDeleteResource(req Request) error {
	if req.Origin == OriginServer {
		return lwm2merr.New(lwm2merr.MethodNotAllowed, "server origin cannot DELETE a single resource")
	}
	return nil
}
