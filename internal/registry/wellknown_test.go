package registry

import "testing"

func TestRegisterWellKnown(t *testing.T) {
	reg := New()
	if err := RegisterWellKnown(reg); err != nil {
		t.Fatalf("RegisterWellKnown: %v", err)
	}

	security := reg.LookupObject(ObjectIDSecurity)
	if security == nil {
		t.Fatal("Security object not registered")
	}
	if security.Resource(ResourceSecurityIdentity) == nil {
		t.Error("Security/Identity resource not registered")
	}
	if security.Resource(ResourceSecuritySecretKey) == nil {
		t.Error("Security/SecretKey resource not registered")
	}

	server := reg.LookupObject(ObjectIDServer)
	if server == nil {
		t.Fatal("Server object not registered")
	}
	if !reg.IsResourceWritable(ObjectIDServer, ResourceServerLifetime) {
		t.Error("Server/Lifetime should be writable")
	}
}

func TestRegisterWellKnownIsIdempotentPerRegistry(t *testing.T) {
	reg := New()
	if err := RegisterWellKnown(reg); err != nil {
		t.Fatalf("first RegisterWellKnown: %v", err)
	}
	if err := RegisterWellKnown(reg); err == nil {
		t.Error("expected an error registering the well-known objects twice into the same registry")
	}
}
