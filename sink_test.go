package ncshark

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/capfile"
)

func TestCaptureSaverKeepsSessionsOfTheSameSecond(t *testing.T) {
	dir := t.TempDir()
	saver := &CaptureSaver{Dir: dir}
	header := capfile.Header{LocalPort: 50000, RemotePort: 33004, Locale: 8}
	for _, opcode := range []uint16{0x10, 0x20} {
		records := []capfile.Record{{Timestamp: t0, Outbound: true, Opcode: opcode}}
		saver.SessionClosed(SessionFromCapture(header, records))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{
		"Port 50000-20240501-100000.msb",
		"Port 50000-20240501-100000-1.msb",
	}, names)
}
