package bootstrapfile

import (
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/store"
)

// Well-known Security and Server object/resource ids, named in
// lwm2m_resource.go's lwm2mObjectID*/lwm2mResourceID* constants.
const (
	objectIDSecurity uint16 = 0
	objectIDServer   uint16 = 1

	resourceSecurityURI           uint16 = 0
	resourceSecurityBootstrap     uint16 = 1
	resourceSecurityMode          uint16 = 2
	resourceSecurityIdentity      uint16 = 3
	resourceSecuritySecretKey     uint16 = 5
	resourceSecurityShortServerID uint16 = 10

	resourceServerShortServerID uint16 = 0
	resourceServerLifetime      uint16 = 1
	resourceServerMinPeriod     uint16 = 2
	resourceServerMaxPeriod     uint16 = 3
	resourceServerBinding       uint16 = 7
)

// Apply provisions one record's Security+Server instance pair into s:
// it creates a fresh instance of each object and writes the record's
// resources into them, the create-then-write sequence
// inventoryd_prepare.go's SetSecurityParams performs by hand against its
// Lwm2mHandler, here driven against the store directly. If any step
// fails, the instances Apply created are deleted again, so a record is
// applied whole or not at all. Instances already in s are left as they
// are, including one that carries the same ShortServerID.
func Apply(s *store.Store, r ServerRecord) error {
	secID, err := s.CreateInstance(objectIDSecurity, model.Invalid)
	if err != nil {
		return err
	}
	srvID, err := s.CreateInstance(objectIDServer, model.Invalid)
	if err != nil {
		_ = s.DeleteInstance(objectIDSecurity, secID)
		return err
	}

	writes := []struct {
		object, resource uint16
		instance         uint16
		value            model.Value
	}{
		{objectIDSecurity, resourceSecurityURI, secID, model.NewString(r.ServerURI)},
		{objectIDSecurity, resourceSecurityBootstrap, secID, model.NewBoolean(r.IsBootstrap)},
		{objectIDSecurity, resourceSecurityMode, secID, model.NewInteger(int64(r.SecurityMode))},
		{objectIDSecurity, resourceSecurityIdentity, secID, model.NewOpaque(r.Identity)},
		{objectIDSecurity, resourceSecuritySecretKey, secID, model.NewOpaque(r.Key)},
		{objectIDSecurity, resourceSecurityShortServerID, secID, model.NewInteger(int64(r.ShortServerID))},
		{objectIDServer, resourceServerShortServerID, srvID, model.NewInteger(int64(r.ShortServerID))},
		{objectIDServer, resourceServerLifetime, srvID, model.NewInteger(int64(r.Lifetime))},
		{objectIDServer, resourceServerMinPeriod, srvID, model.NewInteger(int64(r.DefaultMinPeriod))},
		{objectIDServer, resourceServerMaxPeriod, srvID, model.NewInteger(int64(r.DefaultMaxPeriod))},
		{objectIDServer, resourceServerBinding, srvID, model.NewString(r.Binding)},
	}
	for _, w := range writes {
		if err := s.WriteResource(w.object, w.instance, w.resource, 0, w.value); err != nil {
			_ = s.DeleteInstance(objectIDServer, srvID)
			_ = s.DeleteInstance(objectIDSecurity, secID)
			return err
		}
	}
	return nil
}

// ApplyDocument provisions every record in doc in order, stopping at the
// first record that fails; records applied before it stay in s. Used at
// startup by cmd/lwm2md to load a captured rootPath/bootstrap.conf.
func ApplyDocument(s *store.Store, doc *Document) error {
	for _, r := range doc.Records {
		if err := Apply(s, r); err != nil {
			return err
		}
	}
	return nil
}

// Capture is Apply's inverse: it reads every provisioned Security/Server
// instance pair back out of s into a Document, so the `bootstrap`
// subcommand's process (which discards its in-memory store on exit) can
// persist what the Bootstrap Server wrote for `run` to reload — the
// store itself has no on-disk form, unlike the file-backed resource
// objects internal/filehandler attaches.
func Capture(s *store.Store) (*Document, error) {
	secIDs, err := s.ListInstanceIDs(objectIDSecurity)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	for _, secID := range secIDs {
		r := ServerRecord{Binding: "U"}
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecurityURI); err == nil && len(v) > 0 {
			r.ServerURI = v[0].String()
		}
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecurityBootstrap); err == nil && len(v) > 0 {
			r.IsBootstrap = v[0].Boolean()
		}
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecurityMode); err == nil && len(v) > 0 {
			r.SecurityMode = SecurityMode(v[0].Integer())
		}
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecurityIdentity); err == nil && len(v) > 0 {
			r.Identity = v[0].Opaque()
		}
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecuritySecretKey); err == nil && len(v) > 0 {
			r.Key = v[0].Opaque()
		}
		var shortServerID uint16
		if v, err := s.ReadResource(objectIDSecurity, secID, resourceSecurityShortServerID); err == nil && len(v) > 0 {
			shortServerID = uint16(v[0].Integer())
			r.ShortServerID = shortServerID
		}

		srvIDs, err := s.ListInstanceIDs(objectIDServer)
		if err == nil {
			for _, srvID := range srvIDs {
				v, err := s.ReadResource(objectIDServer, srvID, resourceServerShortServerID)
				if err != nil || len(v) == 0 || uint16(v[0].Integer()) != shortServerID {
					continue
				}
				if v, err := s.ReadResource(objectIDServer, srvID, resourceServerLifetime); err == nil && len(v) > 0 {
					r.Lifetime = int(v[0].Integer())
				}
				if v, err := s.ReadResource(objectIDServer, srvID, resourceServerMinPeriod); err == nil && len(v) > 0 {
					r.DefaultMinPeriod = int(v[0].Integer())
				}
				if v, err := s.ReadResource(objectIDServer, srvID, resourceServerMaxPeriod); err == nil && len(v) > 0 {
					r.DefaultMaxPeriod = int(v[0].Integer())
				}
				if v, err := s.ReadResource(objectIDServer, srvID, resourceServerBinding); err == nil && len(v) > 0 {
					r.Binding = v[0].String()
				}
				break
			}
		}
		doc.Records = append(doc.Records, r)
	}
	return doc, nil
}
