package daemoncfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPopulatesRootPathAndNetworkDefaults(t *testing.T) {
	cfg := Default("/var/lib/lwm2md")
	if cfg.RootPath != "/var/lib/lwm2md" {
		t.Errorf("RootPath = %q", cfg.RootPath)
	}
	if cfg.Port != 5683 || cfg.IPCPort != 5684 {
		t.Errorf("Port=%d IPCPort=%d", cfg.Port, cfg.IPCPort)
	}
	if cfg.ContentType != 11542 {
		t.Errorf("ContentType = %d, want 11542", cfg.ContentType)
	}
	if cfg.EndpointClientName == "" {
		t.Error("expected a non-empty default endpoint client name")
	}
}

func TestExistsFalseForMissingFile(t *testing.T) {
	if Exists(filepath.Join(t.TempDir(), "missing.json")) {
		t.Error("expected Exists to report false for a missing file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default("/data")
	cfg.Port = 6000
	cfg.ObjDefs = []string{"a.xml", "b.xml"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(path) {
		t.Fatal("expected Exists to report true after Save")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RootPath != cfg.RootPath || loaded.Port != cfg.Port {
		t.Errorf("loaded = %+v, want RootPath/Port from %+v", loaded, cfg)
	}
	if len(loaded.ObjDefs) != 2 || loaded.ObjDefs[0] != "a.xml" {
		t.Errorf("ObjDefs = %v", loaded.ObjDefs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error loading a missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Default("/data")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite with invalid JSON.
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error loading malformed JSON")
	}
}
