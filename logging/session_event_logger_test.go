package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

func TestSessionEventLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSessionEventLogger(&buf)
	logger.Start()

	flow := testFlow()
	when := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)
	logger.Log(&types.Event{Type: types.EventCreated, Flow: &flow, Time: when, Locale: 1})
	logger.Log(&types.Event{Type: types.EventTerminated, Flow: &flow, Time: when, MessageCount: 3, Locale: 1, Detail: "closed"})
	logger.Log(&types.Event{Type: types.EventUnidentified, Time: when})
	logger.Stop()

	var events []SerializedEvent
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var event SerializedEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.Len(t, events, 3)
	assert.Equal(t, types.EventCreated, events[0].Type)
	assert.Equal(t, flow.String(), events[0].Flow)
	assert.True(t, when.Equal(events[0].Time))
	assert.Equal(t, 3, events[1].MessageCount)
	assert.Equal(t, "closed", events[1].Detail)
	assert.Equal(t, "", events[2].Flow)
}

func TestSessionEventFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	logger, err := NewSessionEventFileLogger(dir)
	require.NoError(t, err)
	logger.Start()
	logger.Log(&types.Event{Type: types.EventSaved, Time: time.Now()})
	logger.Stop()

	contents, err := os.ReadFile(filepath.Join(dir, EventLogName))
	require.NoError(t, err)
	assert.Contains(t, string(contents), `"Type":"saved"`)
}
