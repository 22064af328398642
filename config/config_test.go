package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ncshark.yaml")
	contents := `
daq: pcapgo
pcap_file: game.pcap
low_port: 40000
high_port: 40010
idle_close_after: 10s
max_pending_bytes: 2048
log_level: debug
locale: 2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "pcapgo", cfg.DAQ)
	assert.Equal(t, uint16(40000), cfg.LowPort)
	assert.Equal(t, 10*time.Second, cfg.IdleCloseAfter)
	assert.Equal(t, logging.DEBUG, cfg.Level())
	assert.Equal(t, byte(2), cfg.Locale)

	driver := cfg.SnifferDriverOptions()
	assert.Equal(t, "game.pcap", driver.Filename)
	dispatcher := cfg.DispatcherOptions()
	assert.Equal(t, uint16(40010), dispatcher.HighPort)
	assert.Equal(t, 2048, dispatcher.Reassembler.MaxPendingBytes)
	assert.True(t, dispatcher.CaptureClock)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("NCSHARK_HIGH_PORT", "34000")
	t.Setenv("NCSHARK_DATABASE_DSN", "postgres://localhost/ncshark")
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, uint16(34000), cfg.HighPort)
	assert.Equal(t, "postgres://localhost/ncshark", cfg.DatabaseDSN)
	assert.False(t, cfg.DispatcherOptions().CaptureClock)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LowPort, cfg.HighPort = 2, 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.LogLevel = "LOUD"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
