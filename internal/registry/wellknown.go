package registry

import "github.com/tamarinlabs/lwm2md/internal/model"

// Well-known Security and Server object/resource ids, named in
// lwm2m_resource.go's lwm2mObjectID*/lwm2mResourceID* constants and
// used by cmd/lwm2md; internal/bootstrapfile and internal/router keep
// their own copies of the ids they need.
const (
	ObjectIDSecurity uint16 = 0
	ObjectIDServer   uint16 = 1

	ResourceSecurityURI           uint16 = 0
	ResourceSecurityBootstrap     uint16 = 1
	ResourceSecurityMode          uint16 = 2
	ResourceSecurityIdentity      uint16 = 3
	ResourceSecuritySecretKey     uint16 = 5
	ResourceSecurityShortServerID uint16 = 10

	ResourceServerShortServerID uint16 = 0
	ResourceServerLifetime      uint16 = 1
	ResourceServerMinPeriod     uint16 = 2
	ResourceServerMaxPeriod     uint16 = 3
	ResourceServerBinding       uint16 = 7
)

// RegisterWellKnown installs the OMA Security (0) and Server (1) object
// definitions every LWM2M client needs regardless of which --objDefs
// files it loads, since the bootstrap state machine
// (internal/bootstrap, internal/bootstrapfile) and the registration
// flow address these ids directly rather than through a user-supplied
// definition file.
func RegisterWellKnown(reg *Registry) error {
	security := &ObjectDefinition{
		ObjectID:     ObjectIDSecurity,
		Name:         "LWM2M Security",
		MinInstances: 1,
		MaxInstances: 16,
	}
	if err := reg.RegisterObject(security); err != nil {
		return err
	}
	securityResources := []*ResourceDefinition{
		{ResourceID: ResourceSecurityURI, Name: "LWM2M Server URI", Type: model.TypeString, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceSecurityBootstrap, Name: "Bootstrap Server", Type: model.TypeBoolean, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceSecurityMode, Name: "Security Mode", Type: model.TypeInteger, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceSecurityIdentity, Name: "Public Key or Identity", Type: model.TypeOpaque, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceSecuritySecretKey, Name: "Secret Key", Type: model.TypeOpaque, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceSecurityShortServerID, Name: "Short Server ID", Type: model.TypeInteger, MinInstances: 0, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
	}
	for _, r := range securityResources {
		if err := reg.RegisterResource(ObjectIDSecurity, r); err != nil {
			return err
		}
	}

	server := &ObjectDefinition{
		ObjectID:     ObjectIDServer,
		Name:         "LWM2M Server",
		MinInstances: 0,
		MaxInstances: 16,
	}
	if err := reg.RegisterObject(server); err != nil {
		return err
	}
	serverResources := []*ResourceDefinition{
		{ResourceID: ResourceServerShortServerID, Name: "Short Server ID", Type: model.TypeInteger, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead)},
		{ResourceID: ResourceServerLifetime, Name: "Lifetime", Type: model.TypeInteger, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)},
		{ResourceID: ResourceServerMinPeriod, Name: "Default Minimum Period", Type: model.TypeInteger, MinInstances: 0, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)},
		{ResourceID: ResourceServerMaxPeriod, Name: "Default Maximum Period", Type: model.TypeInteger, MinInstances: 0, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)},
		{ResourceID: ResourceServerBinding, Name: "Binding", Type: model.TypeString, MinInstances: 1, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)},
	}
	for _, r := range serverResources {
		if err := reg.RegisterResource(ObjectIDServer, r); err != nil {
			return err
		}
	}
	return nil
}
