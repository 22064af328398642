package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

func TestStreamLogger(t *testing.T) {
	testWriter := NewTestSignalWriter()

	streamLogger := NewStreamLogger("meow", testFlow())
	streamLogger.writer = testWriter
	require.NoError(t, streamLogger.Start())

	want := []byte{1, 2, 3, 4, 5, 6, 7}
	res := []types.Reassembly{
		{
			Bytes: want,
		},
	}

	go streamLogger.Reassembled(res)
	<-testWriter.signalChan
	assert.Equal(t, want, testWriter.lastWrite)

	go streamLogger.ReassemblyComplete()
	<-testWriter.closeChan
}

func TestStreamLoggerFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "streams")
	flow := testFlow()
	sink := StreamLoggerFactory{Dir: dir}.Build(&flow, true)

	sink.Reassembled([]types.Reassembly{{Bytes: []byte("hello ")}, {Bytes: []byte("world")}})
	sink.ReassemblyComplete()

	contents, err := os.ReadFile(filepath.Join(dir, flow.String()+".stream"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(contents))
}
