package capfile

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

func TestParseMSnifferLine(t *testing.T) {
	record, err := ParseMSnifferLine("[13:05:09][5] Send:  34 12 AA bb 01")
	require.NoError(t, err)
	assert.True(t, record.Outbound)
	assert.Equal(t, uint16(0x1234), record.Opcode)
	assert.Equal(t, []byte{0xAA, 0xBB, 0x01}, record.Payload)
	assert.True(t, record.Timestamp.Equal(time.Date(2012, time.October, 10, 13, 5, 9, 0, time.UTC)))

	record, err = ParseMSnifferLine("[1:2:3][2] Recv:  FF 00")
	require.NoError(t, err)
	assert.False(t, record.Outbound)
	assert.Equal(t, uint16(0x00FF), record.Opcode)
	assert.Empty(t, record.Payload)

	_, err = ParseMSnifferLine("connected to server")
	assert.ErrorIs(t, err, ErrNotMSnifferLine)

	_, err = ParseMSnifferLine("[13:05:09][6] Send:  34 12 AA")
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = ParseMSnifferLine("[13:05:09][3] Send:  34 12 ZZ")
	assert.Error(t, err)
}

func TestImportMSniffer(t *testing.T) {
	log := strings.Join([]string{
		"MSniffer started",
		"[00:00:01][3] Send:  01 00 05",
		"",
		"[00:00:02][4] Recv:  02 00 06 07",
	}, "\n")
	records, err := ImportMSniffer(strings.NewReader(log))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint16(1), records[0].Opcode)
	assert.Equal(t, []byte{6, 7}, records[1].Payload)
}

type mapResolver map[uint16]string

func (m mapResolver) ResolveName(outbound bool, opcode uint16) (types.Definition, bool) {
	name, ok := m[opcode]
	return types.Definition{Outbound: outbound, Opcode: opcode, Name: name}, ok
}

func TestExport(t *testing.T) {
	when := time.Date(2024, time.January, 2, 3, 4, 5, 6000000, time.UTC)
	records := []Record{
		{Timestamp: when, Outbound: true, Opcode: 0x0010, Payload: []byte{0x01, 0xAB}},
		{Timestamp: when, Outbound: false, Opcode: 0x0020, Payload: []byte{}},
		{Timestamp: when, Outbound: true, Opcode: 0x0030, Payload: bytes.Repeat([]byte{0}, 1000)},
	}
	header := Header{Build: 271, Locale: 8, LocalEndpoint: "a:1", RemoteEndpoint: "b:2"}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, header, records, mapResolver{0x0010: "LoginRequest"}, true))
	lines := strings.Split(buf.String(), "\n")

	assert.Equal(t, "=== Version: 271; Locale: 8 ===", lines[0])
	assert.Equal(t, "Endpoint From: a:1", lines[1])
	assert.Equal(t, "Endpoint To: b:2", lines[2])
	assert.Equal(t, "- Packets: 3", lines[3])
	assert.Equal(t, "- Data: 1,008 bytes", lines[4])
	assert.Equal(t, "[2024-01-02 03:04:05.006][1] [Outbound] [0010 | LoginRequest] 01 AB", lines[6])
	assert.Equal(t, "[2024-01-02 03:04:05.006][1] [Inbound ] [0020 | N/A] ", lines[7])
	assert.True(t, strings.HasPrefix(lines[8], "[2024-01-02 03:04:05.006][2] [Outbound] [0030 | N/A] 00 00"))

	buf.Reset()
	require.NoError(t, Export(&buf, header, records[:1], nil, false))
	assert.Contains(t, buf.String(), "[Outbound] [0010] 01 AB")
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "1,234,567", groupThousands(1234567))
}
