// Command lwm2md is the LWM2M client/server/bootstrap daemon (§6): it
// wires the Definition Registry, Object/Resource Store, Write-Attribute
// Store, Observation Engine, Endpoint Router, Registration Table and
// Bootstrap state machine together behind a CoAP (or DTLS) transport
// edge and an XML-framed IPC surface, then drives them through the
// cooperative event loop §5 describes.
//
// Grounded on cmd/inventoryd/main.go's flag-parse-then-dispatch shape
// (--init/--bootstrap/implicit-run), rewired onto daemoncfg's cobra
// command tree and every internal package this package itself only
// assembles, never reimplements.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tamarinlabs/lwm2md/internal/bootstrap"
	"github.com/tamarinlabs/lwm2md/internal/bootstrapfile"
	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/daemoncfg"
	"github.com/tamarinlabs/lwm2md/internal/filehandler"
	"github.com/tamarinlabs/lwm2md/internal/ipc"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/observe"
	"github.com/tamarinlabs/lwm2md/internal/obslog"
	"github.com/tamarinlabs/lwm2md/internal/regif"
	"github.com/tamarinlabs/lwm2md/internal/registry"
	"github.com/tamarinlabs/lwm2md/internal/regtable"
	"github.com/tamarinlabs/lwm2md/internal/router"
	"github.com/tamarinlabs/lwm2md/internal/store"
	"github.com/tamarinlabs/lwm2md/internal/transport/coapclient"
	"github.com/tamarinlabs/lwm2md/internal/transport/coapserver"
	"github.com/tamarinlabs/lwm2md/internal/transport/dtlslisten"
)

const (
	modelsDirName       = "models"
	resourcesDirName    = "resources"
	bootstrapFileName   = "bootstrap.conf"
)

func main() {
	root := daemoncfg.NewRootCommand(daemoncfg.Actions{
		Init:      actionInit,
		Bootstrap: actionBootstrap,
		Run:       actionRun,
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// buildRegistry installs the well-known Security/Server objects and
// every --objDefs file plus whatever's under rootPath/models, matching
// the teacher's own LoadLwm2mDefinitions load-everything-under-rootPath
// step but sourced from the CLI's repeatable per-file flag as well.
func buildRegistry(cfg *daemoncfg.Config) (*registry.Registry, error) {
	reg := registry.New()
	if err := registry.RegisterWellKnown(reg); err != nil {
		return nil, fmt.Errorf("lwm2md: registering well-known objects: %w", err)
	}
	for _, path := range cfg.ObjDefs {
		if err := registry.LoadObjDefFile(reg, path); err != nil {
			return nil, fmt.Errorf("lwm2md: loading %s: %w", path, err)
		}
	}
	modelsDir := filepath.Join(cfg.RootPath, modelsDirName)
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		return reg, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := registry.LoadObjDefFile(reg, filepath.Join(modelsDir, e.Name())); err != nil {
			return nil, fmt.Errorf("lwm2md: loading %s: %w", e.Name(), err)
		}
	}
	return reg, nil
}

// attachFileHandlers backs every non-well-known object's instances and
// resources onto cfg.RootPath/resources, the way HandlerFile backed the
// teacher's whole tree — Security/Server are excluded since their
// instances come from bootstrapfile/the bootstrap state machine instead
// of files on disk.
func attachFileHandlers(reg *registry.Registry, rootDir string) error {
	for _, obj := range reg.Objects() {
		if obj.ObjectID == registry.ObjectIDSecurity || obj.ObjectID == registry.ObjectIDServer {
			continue
		}
		if err := filehandler.AttachObject(reg, obj.ObjectID, rootDir); err != nil {
			return err
		}
		for _, res := range obj.Resources() {
			if res.Operations.Has(model.OpExecute) {
				continue
			}
			if err := filehandler.Attach(reg, obj.ObjectID, res.ResourceID, rootDir); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadBootstrapFile applies a previously captured bootstrap.conf, if
// present, to st — this is how a successful `lwm2md bootstrap` run
// (which discards its own in-memory store on exit) hands Security/
// Server provisioning to a later `lwm2md run`.
func loadBootstrapFile(cfg *daemoncfg.Config, st *store.Store) error {
	path := filepath.Join(cfg.RootPath, bootstrapFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	doc, err := bootstrapfile.Parse(data)
	if err != nil {
		return fmt.Errorf("lwm2md: parsing %s: %w", path, err)
	}
	return bootstrapfile.ApplyDocument(st, doc)
}

// actionInit implements `lwm2md init` (§6): lay down rootPath/models and
// rootPath/resources, matching CreateDefaultConfig's directory-creation
// step, then validate every configured object definition loads cleanly.
func actionInit(cfg *daemoncfg.Config) error {
	for _, dir := range []string{cfg.RootPath, filepath.Join(cfg.RootPath, modelsDirName), filepath.Join(cfg.RootPath, resourcesDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("lwm2md: creating %s: %w", dir, err)
		}
	}
	if _, err := buildRegistry(cfg); err != nil {
		return err
	}
	fmt.Printf("lwm2md: initialized %s\n", cfg.RootPath)
	return nil
}

// notifierSwitch resolves the circular dependency between the
// observation Engine (needs a Notifier at construction) and the
// transport Listener (needs the already-built Router to serve
// requests, but is also the concrete Notifier the Engine pushes
// through) — the same lazy-indirection shape internal/ipc's
// notifierFunc/SetTransport pair uses for its own Transport.
type notifierSwitch struct {
	target observe.Notifier
}

func (n *notifierSwitch) Notify(addr observe.Address, token []byte, seq uint32, format codec.ContentFormat, body []byte) error {
	if n.target == nil {
		return nil
	}
	return n.target.Notify(addr, token, seq, format, body)
}

type closer interface{ Close() error }

func actionRun(cfg *daemoncfg.Config) error {
	log := obslog.New("lwm2md", logLevel(cfg), logFormat(cfg))

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	resourcesDir := filepath.Join(cfg.RootPath, resourcesDirName)
	if err := attachFileHandlers(reg, resourcesDir); err != nil {
		return fmt.Errorf("lwm2md: attaching resource handlers: %w", err)
	}

	st := store.New(reg)
	if err := loadBootstrapFile(cfg, st); err != nil {
		return fmt.Errorf("lwm2md: loading bootstrap state: %w", err)
	}
	attrs := observe.NewStore()
	regtbl := regtable.New()
	coapClient := coapclient.New()

	notifier := &notifierSwitch{}
	engine := observe.NewEngine(attrs, st, st, notifier)
	rtr := router.New(st, attrs, engine)
	rtr.OnWrite(engine.MarkChanged)

	ipcSrv := ipc.NewServer(rtr, reg, st, regtbl, coapClient)

	var coapListen closer
	regHandler := regif.New(log, nowMs, regif.WithRegistrationTable(regtbl))
	if cfg.Secure {
		psk := pskFromStore(st)
		l, err := dtlslisten.Listen(bindAddr(cfg), dtlslisten.PSKConfig(psk.identity, psk.key), rtr, log, router.OriginServer, dtlslisten.WithRegistration(regHandler))
		if err != nil {
			return fmt.Errorf("lwm2md: starting DTLS listener: %w", err)
		}
		notifier.target = l
		coapListen = l
	} else {
		l, err := coapserver.Listen(bindAddr(cfg), rtr, log, coapserver.WithOrigin(router.OriginServer), coapserver.WithRegistration(regHandler))
		if err != nil {
			return fmt.Errorf("lwm2md: starting CoAP listener: %w", err)
		}
		notifier.target = l
		coapListen = l
	}
	defer coapListen.Close()

	ipcLn, err := ipc.Listen(cfg.IPCPort, ipcSrv, log)
	if err != nil {
		return fmt.Errorf("lwm2md: starting IPC listener: %w", err)
	}
	defer ipcLn.Close()

	log.Logger.WithField("port", cfg.Port).WithField("ipcPort", cfg.IPCPort).Info("lwm2md: running")

	go func() {
		for {
			if err := ipcLn.Serve(); err != nil {
				log.WithError(err).Warn("lwm2md: ipc listener exited")
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		now := nowMs()
		engine.Tick(now)
		regtbl.Tick(now)
		ipcSrv.Tick(now)
	}
	return nil
}

// actionBootstrap implements `lwm2md bootstrap` (§6, §4.H): open a
// listener tagged OriginBootstrapServer (this device is receiving
// BOOTSTRAP WRITE/DELETE from its Bootstrap Server, which is the one
// origin allowed to touch the Security object directly), send the
// BOOTSTRAP-REQUEST, drive the client state machine to completion, and
// persist the result for the next `lwm2md run`.
func actionBootstrap(cfg *daemoncfg.Config) error {
	log := obslog.New("lwm2md-bootstrap", logLevel(cfg), logFormat(cfg))

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	st := store.New(reg)
	attrs := observe.NewStore()
	coapClient := coapclient.New()

	notifier := &notifierSwitch{}
	engine := observe.NewEngine(attrs, st, st, notifier)
	rtr := router.New(st, attrs, engine)
	rtr.OnWrite(func(model.Path) {})

	bsClient := bootstrap.NewClient(cfg.EndpointClientName, func(ep string) error {
		return coapClient.RequestBootstrap(cfg.BootstrapServer, ep)
	}, 30_000)

	regHandler := regif.New(log, nowMs, regif.WithBootstrapClient(bsClient))
	l, err := coapserver.Listen(bindAddr(cfg), rtr, log, coapserver.WithOrigin(router.OriginBootstrapServer), coapserver.WithRegistration(regHandler))
	if err != nil {
		return fmt.Errorf("lwm2md: starting bootstrap listener: %w", err)
	}
	defer l.Close()
	notifier.target = l

	bsClient.Start(nowMs())
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		switch bsClient.State() {
		case bootstrap.Bootstrapped:
			return persistBootstrapResult(cfg, st)
		case bootstrap.Failed:
			return fmt.Errorf("lwm2md: bootstrap failed: %w", bsClient.Err())
		case bootstrap.CheckExisting:
			bsClient.CheckExistingDone(checkBootstrapResult(st))
		}
		bsClient.Tick(nowMs())
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("lwm2md: bootstrap timed out in state %s", bsClient.State())
}

// persistBootstrapResult captures the provisioned Security/Server
// instances and writes them to rootPath/bootstrap.conf, matching the
// flat key/value format internal/bootstrapfile.Parse reads.
func persistBootstrapResult(cfg *daemoncfg.Config, st *store.Store) error {
	doc, err := bootstrapfile.Capture(st)
	if err != nil {
		return fmt.Errorf("lwm2md: capturing bootstrap result: %w", err)
	}
	path := filepath.Join(cfg.RootPath, bootstrapFileName)
	if err := os.WriteFile(path, bootstrapfile.Encode(doc), 0644); err != nil {
		return fmt.Errorf("lwm2md: writing %s: %w", path, err)
	}
	fmt.Printf("lwm2md: bootstrap complete, wrote %s\n", path)
	return nil
}

// checkBootstrapResult validates §4.H's CheckExisting step: at least
// one Security instance and one Server instance must now be present.
func checkBootstrapResult(st *store.Store) bool {
	sec, err := st.ListInstanceIDs(registry.ObjectIDSecurity)
	if err != nil || len(sec) == 0 {
		return false
	}
	srv, err := st.ListInstanceIDs(registry.ObjectIDServer)
	if err != nil || len(srv) == 0 {
		return false
	}
	return true
}

func bindAddr(cfg *daemoncfg.Config) string {
	return fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
}

func logLevel(cfg *daemoncfg.Config) string {
	if cfg.Verbose {
		return "debug"
	}
	return "info"
}

func logFormat(cfg *daemoncfg.Config) string {
	if cfg.Verbose {
		return "text"
	}
	return "json"
}

type pskCreds struct {
	identity []byte
	key      []byte
}

// pskFromStore reads the first Security instance's Identity/SecretKey
// resources for the DTLS edge's PSK configuration, per §7.1.7.
func pskFromStore(st *store.Store) pskCreds {
	ids, err := st.ListInstanceIDs(registry.ObjectIDSecurity)
	if err != nil || len(ids) == 0 {
		return pskCreds{}
	}
	identity, _ := st.ReadResource(registry.ObjectIDSecurity, ids[0], registry.ResourceSecurityIdentity)
	key, _ := st.ReadResource(registry.ObjectIDSecurity, ids[0], registry.ResourceSecuritySecretKey)
	creds := pskCreds{}
	if len(identity) > 0 {
		creds.identity = identity[0].Opaque()
	}
	if len(key) > 0 {
		creds.key = key[0].Opaque()
	}
	return creds
}
