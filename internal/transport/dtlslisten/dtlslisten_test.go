package dtlslisten

import (
	"testing"

	piondtls "github.com/pion/dtls/v2"
)

func TestPSKConfig(t *testing.T) {
	identity := []byte("endpoint1")
	key := []byte("secret-key")

	cfg := PSKConfig(identity, key)

	if string(cfg.PSKIdentityHint) != string(identity) {
		t.Errorf("PSKIdentityHint = %q, want %q", cfg.PSKIdentityHint, identity)
	}
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != piondtls.TLS_PSK_WITH_AES_128_CCM_8 {
		t.Errorf("CipherSuites = %v, want [TLS_PSK_WITH_AES_128_CCM_8]", cfg.CipherSuites)
	}

	got, err := cfg.PSK([]byte("ignored-hint"))
	if err != nil {
		t.Fatalf("PSK callback returned error: %v", err)
	}
	if string(got) != string(key) {
		t.Errorf("PSK callback returned %q, want %q", got, key)
	}

	if cfg.ConnectContextMaker == nil {
		t.Fatal("ConnectContextMaker should be set")
	}
	ctx, cancel := cfg.ConnectContextMaker()
	defer cancel()
	if ctx == nil {
		t.Error("ConnectContextMaker returned a nil context")
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Error("ConnectContextMaker's context should carry a deadline")
	}
}
