package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	name := filepath.Join(t.TempDir(), "log")
	var w *RotatingQuotaWriter
	headers := 0
	w = NewRotatingWriterBytes(name, 30, 3, func() error {
		headers++
		_, err := w.Write([]byte("H"))
		return err
	})

	for _, chunk := range []string{"aaaa", "bbbb", "cccc", "dddd", "eeee"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
	require.NoError(t, w.Close())

	current, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "Heeee", string(current))
	previous, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	assert.Equal(t, "Hcccc"+"dddd", string(previous))
	oldest, err := os.ReadFile(name + ".2")
	require.NoError(t, err)
	assert.Equal(t, "Haaaa"+"bbbb", string(oldest))
	assert.Equal(t, 3, headers)

	_, err = os.Stat(name + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterDropsOldest(t *testing.T) {
	name := filepath.Join(t.TempDir(), "log")
	w := NewRotatingWriterBytes(name, 8, 2, nil)
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	current, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("cccc"), current))
	previous, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(previous))
}

func TestRotatingWriterQuota(t *testing.T) {
	w := NewRotatingWriterBytes(filepath.Join(t.TempDir(), "log"), 4, 1, nil)
	_, err := w.Write([]byte("too large"))
	assert.ErrorIs(t, err, ErrQuota)
	w.Close()
}
