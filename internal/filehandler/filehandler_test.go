package filehandler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamarinlabs/lwm2md/internal/model"
	"github.com/tamarinlabs/lwm2md/internal/registry"
)

func TestHandlerReadWritePlainFile(t *testing.T) {
	root := t.TempDir()
	h := New(root, 3, 1, model.TypeString)

	err := h.OnWrite(0, model.NewString("hello"))
	require.NoError(t, err)

	v, err := h.OnRead(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.String())

	buf, err := os.ReadFile(filepath.Join(root, "3", "0", "1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestHandlerReadScriptOverride(t *testing.T) {
	root := t.TempDir()
	h := New(root, 3, 0, model.TypeInteger)

	instDir := filepath.Join(root, "3", "0")
	require.NoError(t, os.MkdirAll(instDir, 0755))
	script := filepath.Join(instDir, "0.read")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 42\n"), 0755))

	v, err := h.OnRead(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Integer())
}

func TestHandlerWriteScriptOverride(t *testing.T) {
	root := t.TempDir()
	h := New(root, 3, 0, model.TypeString)

	instDir := filepath.Join(root, "3", "0")
	require.NoError(t, os.MkdirAll(instDir, 0755))
	out := filepath.Join(instDir, "out.txt")
	script := filepath.Join(instDir, "0.write")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat > "+out+"\n"), 0755))

	require.NoError(t, h.OnWrite(0, model.NewString("goodbye")))

	buf, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "goodbye", string(buf))

	plainFile := filepath.Join(instDir, "0")
	_, statErr := os.Stat(plainFile)
	assert.True(t, os.IsNotExist(statErr), "script override should not also write the plain resource file")
}

func TestHandlerExecuteRequiresExecutableFile(t *testing.T) {
	root := t.TempDir()
	h := New(root, 3, 4, model.TypeNone)

	err := h.OnExecute(0, nil)
	assert.Error(t, err)

	instDir := filepath.Join(root, "3", "0")
	require.NoError(t, os.MkdirAll(instDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(instDir, "4"), []byte("#!/bin/sh\nexit 0\n"), 0755))

	assert.NoError(t, h.OnExecute(0, nil))
}

func TestObjectHandlerCreateDelete(t *testing.T) {
	root := t.TempDir()
	oh := NewObjectHandler(root, 3)

	require.NoError(t, oh.OnCreate(0))
	instDir := filepath.Join(root, "3", "0")
	info, err := os.Stat(instDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, oh.OnDelete(0))
	_, err = os.Stat(instDir)
	assert.True(t, os.IsNotExist(err))
}

func TestAttachResourceAndObject(t *testing.T) {
	reg := registry.New()
	obj := &registry.ObjectDefinition{ObjectID: 3, Name: "Device", MaxInstances: 1}
	res := &registry.ResourceDefinition{ResourceID: 1, Type: model.TypeString, MaxInstances: 1, Operations: model.Mask(model.OpRead | model.OpWrite)}
	require.NoError(t, reg.RegisterObject(obj))
	require.NoError(t, reg.RegisterResource(3, res))

	root := t.TempDir()
	require.NoError(t, Attach(reg, 3, 1, root))
	require.NoError(t, AttachObject(reg, 3, root))

	got := reg.LookupResource(3, 1)
	require.NotNil(t, got.Handler)
	gotObj := reg.LookupObject(3)
	require.NotNil(t, gotObj.Handler)

	err := Attach(reg, 3, 99, root)
	assert.Error(t, err)
	err = AttachObject(reg, 99, root)
	assert.Error(t, err)
}
