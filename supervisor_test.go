package ncshark

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/capfile"
	"github.com/ncshark/ncshark/types"
)

func TestSupervisorSavesCaptures(t *testing.T) {
	path := writeTestPcap(t, gameConversation())
	saveDir := t.TempDir()
	supervisor := NewSupervisor(SupervisorOptions{
		SnifferDriverOptions: &types.SnifferDriverOptions{DAQ: "pcapgo", Filename: path},
		DispatcherOptions:    DispatcherOptions{LowPort: 33000, HighPort: 33010},
		SessionSink:          &CaptureSaver{Dir: saveDir},
	})
	require.NoError(t, supervisor.Run(context.Background()))

	files, err := os.ReadDir(saveDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Port 50000-20240501-100000.msb", files[0].Name())

	f, err := os.Open(filepath.Join(saveDir, files[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	header, records, err := capfile.ReadAll(f, capfile.ReaderOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Outbound)
	assert.Equal(t, uint16(0x0010), records[0].Opcode)
	assert.Equal(t, uint16(33004), header.RemotePort)
}

func TestSupervisorDriverError(t *testing.T) {
	supervisor := NewSupervisor(SupervisorOptions{
		SnifferDriverOptions: &types.SnifferDriverOptions{DAQ: "pcapgo", Filename: filepath.Join(t.TempDir(), "missing.pcap")},
	})
	assert.Error(t, supervisor.Run(context.Background()))
}
