// Package daemoncfg implements the daemon's persisted JSON configuration
// and its CLI flag surface (§6 "CLI (daemon)").
//
// Grounded on inventoryd.go's Config/LoadInventorydConfig/
// CreateDefaultConfig (JSON-on-disk, RootPath/EndpointClientName/
// BootstrapServer/ObserveInterval fields kept verbatim), extended with
// every field the expanded CLI surface needs, and rewired onto
// github.com/spf13/cobra + github.com/spf13/pflag the way
// hectolitro-yeet/pkg/cli/cli.go builds its command tree, replacing the
// teacher's raw flag package.
package daemoncfg

import (
	"encoding/json"
	"os"
	"time"
)

// Version is the daemon's build version, reported by --version.
const Version = "0.1.0"

// Config is the persisted on-disk daemon configuration.
type Config struct {
	RootPath           string `json:"rootPath"`
	EndpointClientName string `json:"endpointClientName"`
	BootstrapServer    string `json:"bootstrapServer"`
	ObserveInterval    int    `json:"observeInterval"`

	IP            string   `json:"ip"`
	Interface     string   `json:"interface"`
	AddressFamily int      `json:"addressFamily"`
	Port          int      `json:"port"`
	IPCPort       int      `json:"ipcPort"`
	ContentType   int32    `json:"contentType"`
	Secure        bool     `json:"secure"`
	ObjDefs       []string `json:"objDefs"`
	Daemonize     bool     `json:"daemonize"`
	Verbose       bool     `json:"verbose"`
	LogFile       string   `json:"logFile"`
}

// Default builds the configuration CreateDefaultConfig used to hand back
// on first `lwm2md init`, rootPath-relative like the teacher's own
// default, extended with the CLI-surface fields' defaults from §6.
func Default(rootPath string) *Config {
	return &Config{
		RootPath:           rootPath,
		EndpointClientName: "lwm2md-" + time.Now().Format("20060102150405"),
		BootstrapServer:    "bootstrap.example.com:5683",
		ObserveInterval:    5,
		IP:                 "0.0.0.0",
		AddressFamily:      4,
		Port:               5683,
		IPCPort:            5684,
		ContentType:        11542, // FormatOMATLV
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, matching the teacher's own
// json.MarshalIndent(config, "", "  ") call.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists reports whether a configuration file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
