package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

const sample = `definitions:
  - locale: 1
    outbound: true
    opcode: 0x0010
    name: LoginRequest
  - locale: 1
    outbound: false
    opcode: 0x0120
    name: Heartbeat
    ignore: true
  - locale: 2
    outbound: true
    opcode: 0x0010
    name: ConnectRequest
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	d, ok := r.Locale(1).ResolveName(true, 0x10)
	require.True(t, ok)
	assert.Equal(t, "LoginRequest", d.Name)

	d, ok = r.Locale(1).ResolveName(false, 0x120)
	require.True(t, ok)
	assert.True(t, d.Ignore)

	d, ok = r.Locale(2).ResolveName(true, 0x10)
	require.True(t, ok)
	assert.Equal(t, "ConnectRequest", d.Name)

	_, ok = r.Locale(2).ResolveName(false, 0x10)
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("definitions: [: nope"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPutSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "definitions.yaml")
	r := New(path)
	r.Put(types.Definition{Locale: 1, Outbound: false, Opcode: 0x20, Name: "B"})
	r.Put(types.Definition{Locale: 1, Outbound: true, Opcode: 0x30, Name: "A"})
	r.Put(types.Definition{Locale: 1, Outbound: true, Opcode: 0x30, Name: "Renamed"})
	require.NoError(t, r.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	defs := loaded.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "Renamed", defs[0].Name)
	assert.Equal(t, "B", defs[1].Name)

	loaded.Remove(1, true, 0x30)
	_, ok := loaded.Lookup(1, true, 0x30)
	assert.False(t, ok)
}
