package daemoncfg

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Flags mirrors §6's CLI surface, bound onto a cobra command's persistent
// flag set the way hectolitro-yeet/pkg/cli/cli.go binds its command
// flags. Unset flags carry the default BindPersistentFlags registers for
// them; callers consult Changed to know which ones the operator actually
// passed.
type Flags struct {
	ConfigPath    string
	IP            string
	Interface     string
	AddressFamily int
	Port          int
	IPCPort       int
	ContentType   int
	Secure        bool
	ObjDefs       []string
	Daemonize     bool
	Verbose       bool
	LogFile       string
	ShowVersion   bool

	cmd *cobra.Command
}

// Changed reports whether the named persistent flag was set on the
// command line, the signal Apply uses to decide which Config fields to
// override.
func (f *Flags) Changed(name string) bool { return f.cmd.Flags().Changed(name) }

// BindPersistentFlags installs §6's flag set onto cmd's persistent flags.
func BindPersistentFlags(cmd *cobra.Command) *Flags {
	f := &Flags{cmd: cmd}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&f.ConfigPath, "config", "c", "./config.json", "path to the daemon configuration file")
	fs.StringVar(&f.IP, "ip", "0.0.0.0", "bind address")
	fs.StringVar(&f.Interface, "interface", "", "bind network interface")
	fs.IntVar(&f.AddressFamily, "addressFamily", 4, "IP address family, 4 or 6")
	fs.IntVar(&f.Port, "port", 5683, "CoAP port")
	fs.IntVar(&f.IPCPort, "ipcPort", 5684, "IPC port")
	fs.IntVar(&f.ContentType, "contentType", 11542, "default response Content-Format id")
	fs.BoolVar(&f.Secure, "secure", false, "enable DTLS (coaps://)")
	fs.StringArrayVar(&f.ObjDefs, "objDefs", nil, "object/resource definition file, XML or YAML (repeatable, up to 16)")
	fs.BoolVar(&f.Daemonize, "daemonize", false, "detach and run in the background")
	fs.BoolVar(&f.Verbose, "verbose", false, "text-format, debug-level logging")
	fs.StringVar(&f.LogFile, "logFile", "", "log file path (stderr if unset)")
	fs.BoolVarP(&f.ShowVersion, "version", "V", false, "print version and exit")
	return f
}

// Apply overrides cfg's fields with every flag the operator actually
// passed, leaving the persisted value otherwise, matching the teacher's
// own endpoint/rootPath CLI-override-then-save behavior in
// cmd/inventoryd/main.go.
func Apply(cfg *Config, f *Flags) {
	if f.Changed("ip") {
		cfg.IP = f.IP
	}
	if f.Changed("interface") {
		cfg.Interface = f.Interface
	}
	if f.Changed("addressFamily") {
		cfg.AddressFamily = f.AddressFamily
	}
	if f.Changed("port") {
		cfg.Port = f.Port
	}
	if f.Changed("ipcPort") {
		cfg.IPCPort = f.IPCPort
	}
	if f.Changed("contentType") {
		cfg.ContentType = int32(f.ContentType)
	}
	if f.Changed("secure") {
		cfg.Secure = f.Secure
	}
	if f.Changed("objDefs") {
		cfg.ObjDefs = f.ObjDefs
	}
	if f.Changed("daemonize") {
		cfg.Daemonize = f.Daemonize
	}
	if f.Changed("verbose") {
		cfg.Verbose = f.Verbose
	}
	if f.Changed("logFile") {
		cfg.LogFile = f.LogFile
	}
}

// Actions are the three entrypoints the root command's subcommands
// invoke, supplied by cmd/lwm2md so this package stays free of the
// daemon's own wiring.
type Actions struct {
	Init      func(cfg *Config) error
	Bootstrap func(cfg *Config) error
	Run       func(cfg *Config) error
}

// NewRootCommand builds the `lwm2md` command tree: a root command
// carrying the persistent §6 flags plus `init`/`bootstrap`/`run`
// subcommands, grounded on hectolitro-yeet/pkg/cli/cli.go's
// RootCmd(name) + per-subcommand builder pattern, and mapping onto the
// teacher's own `--init`/`-b`/(implicit) control flow from
// cmd/inventoryd/main.go.
func NewRootCommand(actions Actions) *cobra.Command {
	root := &cobra.Command{
		Use:           "lwm2md",
		Short:         "LWM2M client/server/bootstrap daemon",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := BindPersistentFlags(root)

	load := func() (*Config, error) {
		cfg, err := Load(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		Apply(cfg, flags)
		if len(cfg.ObjDefs) > 16 {
			return nil, fmt.Errorf("daemoncfg: %d objDefs entries, at most 16 allowed", len(cfg.ObjDefs))
		}
		return cfg, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file and resource tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if Exists(flags.ConfigPath) {
				cfg, err := load()
				if err != nil {
					return err
				}
				return actions.Init(cfg)
			}
			cfg := Default(flags.ConfigPath)
			Apply(cfg, flags)
			if len(cfg.ObjDefs) > 16 {
				return fmt.Errorf("daemoncfg: %d objDefs entries, at most 16 allowed", len(cfg.ObjDefs))
			}
			if err := Save(flags.ConfigPath, cfg); err != nil {
				return err
			}
			return actions.Init(cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Run the client-role bootstrap exchange against the configured bootstrapServer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return actions.Bootstrap(cfg)
		},
	})

	run := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon event loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return actions.Run(cfg)
		},
	}
	root.AddCommand(run)
	root.RunE = run.RunE

	return root
}
