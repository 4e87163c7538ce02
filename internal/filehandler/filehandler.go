// Package filehandler adapts a directory tree into a registry.ResourceHandler:
// reading a resource reads a file, writing one writes a file, and an
// executable "<resourceID>.read"/"<resourceID>.write"/"<resourceID>"
// script, if present, runs in place of the plain file — stdin/stdout
// carrying the same text/plain encoding the CoAP edge uses.
//
// Grounded on inventoryd_handler_file.go's HandlerFile (DeleteObject,
// CreateInstance, ReadResource/WriteResource/ExecuteResource and their
// *.read/*.write script-override convention), adapted from the teacher's
// Lwm2mObject/Lwm2mResource-keyed interface onto registry.ResourceHandler's
// narrower, already-typed instanceID/model.Value contract.
package filehandler

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tamarinlabs/lwm2md/internal/codec"
	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/registry"
)

// Handler backs one resource's value with files under
// <rootDir>/<objectID>/<instanceID>/<resourceID>[.read|.write].
type Handler struct {
	rootDir              string
	objectID, resourceID uint16
	rtype                model.ResourceType
}

// New returns a Handler for (objectID, resourceID), rooted at rootDir.
func New(rootDir string, objectID, resourceID uint16, rtype model.ResourceType) *Handler {
	return &Handler{rootDir: rootDir, objectID: objectID, resourceID: resourceID, rtype: rtype}
}

// Attach installs h as the live handler for an already-registered
// resource definition, so the store's normal OnRead/OnWrite/OnExecute
// delegation (internal/store's getInstance-and-Handler path) picks it up
// without the router or store knowing files are involved at all.
func Attach(reg *registry.Registry, objectID, resourceID uint16, rootDir string) error {
	def := reg.LookupResource(objectID, resourceID)
	if def == nil {
		return fmt.Errorf("filehandler: resource %d/%d not defined", objectID, resourceID)
	}
	def.Handler = New(rootDir, objectID, resourceID, def.Type)
	return nil
}

func (h *Handler) instanceDir(instanceID uint16) string {
	return filepath.Join(h.rootDir, strconv.Itoa(int(h.objectID)), strconv.Itoa(int(instanceID)))
}

func (h *Handler) resourcePath(instanceID uint16) string {
	return filepath.Join(h.instanceDir(instanceID), strconv.Itoa(int(h.resourceID)))
}

// OnRead satisfies registry.ResourceHandler: a "<id>.read" script, if
// executable, runs and its stdout becomes the value; otherwise the plain
// resource file is read directly.
func (h *Handler) OnRead(instanceID uint16) (model.Value, error) {
	scriptPath := h.resourcePath(instanceID) + ".read"
	if isExecutable(scriptPath) {
		out, err := runScript(scriptPath, nil)
		if err != nil {
			return model.Value{}, err
		}
		return codec.ValueFromText(h.rtype, strings.TrimSpace(string(out)))
	}
	buf, err := os.ReadFile(h.resourcePath(instanceID))
	if err != nil {
		return model.Value{}, fmt.Errorf("filehandler: reading %s: %w", h.resourcePath(instanceID), err)
	}
	return codec.ValueFromText(h.rtype, strings.TrimSpace(string(buf)))
}

// OnWrite satisfies registry.ResourceHandler: a "<id>.write" script, if
// executable, receives the text/plain-encoded value on stdin; otherwise
// the value is written to the plain resource file.
func (h *Handler) OnWrite(instanceID uint16, v model.Value) error {
	text, err := codec.TextFromValue(v)
	if err != nil {
		return fmt.Errorf("filehandler: encoding value: %w", err)
	}
	scriptPath := h.resourcePath(instanceID) + ".write"
	if isExecutable(scriptPath) {
		_, err := runScript(scriptPath, []byte(text))
		return err
	}
	if err := os.MkdirAll(h.instanceDir(instanceID), 0755); err != nil {
		return fmt.Errorf("filehandler: creating %s: %w", h.instanceDir(instanceID), err)
	}
	if err := os.WriteFile(h.resourcePath(instanceID), []byte(text), 0644); err != nil {
		return fmt.Errorf("filehandler: writing %s: %w", h.resourcePath(instanceID), err)
	}
	return nil
}

// OnExecute satisfies registry.ResourceHandler: the resource file itself
// must be an executable, invoked with the decoded argument on stdin.
func (h *Handler) OnExecute(instanceID uint16, arg []byte) error {
	path := h.resourcePath(instanceID)
	if !isExecutable(path) {
		return fmt.Errorf("filehandler: %s is not executable", path)
	}
	_, err := runScript(path, arg)
	return err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

func runScript(path string, stdin []byte) ([]byte, error) {
	cmd := exec.Command("/bin/sh", "-c", path)
	if stdin != nil {
		cmd.Stdin = strings.NewReader(string(stdin))
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("filehandler: running %s: %w", path, err)
	}
	return out, nil
}

// ObjectHandler backs CreateInstance/DeleteInstance with directory
// creation/removal under rootDir, the object-level counterpart to
// Handler — grounded on HandlerFile.CreateInstance/DeleteObject's
// directory bookkeeping.
type ObjectHandler struct {
	rootDir  string
	objectID uint16
}

// NewObjectHandler returns an ObjectHandler for objectID, rooted at rootDir.
func NewObjectHandler(rootDir string, objectID uint16) *ObjectHandler {
	return &ObjectHandler{rootDir: rootDir, objectID: objectID}
}

// AttachObject installs h as the live handler for an already-registered
// object definition.
func AttachObject(reg *registry.Registry, objectID uint16, rootDir string) error {
	def := reg.LookupObject(objectID)
	if def == nil {
		return fmt.Errorf("filehandler: object %d not defined", objectID)
	}
	def.Handler = NewObjectHandler(rootDir, objectID)
	return nil
}

func (h *ObjectHandler) instanceDir(instanceID uint16) string {
	return filepath.Join(h.rootDir, strconv.Itoa(int(h.objectID)), strconv.Itoa(int(instanceID)))
}

func (h *ObjectHandler) OnCreate(instanceID uint16) error {
	return os.MkdirAll(h.instanceDir(instanceID), 0755)
}

func (h *ObjectHandler) OnDelete(instanceID uint16) error {
	return os.RemoveAll(h.instanceDir(instanceID))
}
