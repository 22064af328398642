package capfile

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() Header {
	return Header{
		LocalEndpoint:  "10.0.0.2:50123",
		LocalPort:      50123,
		RemoteEndpoint: "203.0.113.7:33004",
		RemotePort:     33004,
		Locale:         8,
		Build:          271,
		PatchLocation:  "1:2",
	}
}

func sampleRecords() []Record {
	base := time.Date(2024, time.March, 3, 12, 30, 45, 123456700, time.UTC)
	return []Record{
		{Timestamp: base, Outbound: true, Opcode: 0x0102, Payload: []byte{1, 2, 3}, PreDecodePosition: 0, PostDecodePosition: 7},
		{Timestamp: base.Add(time.Millisecond), Outbound: false, Opcode: 0xFFFF, Payload: []byte{}, PreDecodePosition: 0, PostDecodePosition: 4},
		{Timestamp: base.Add(time.Second), Outbound: false, Opcode: 0x0000, Payload: bytes.Repeat([]byte{0xAB}, 300), PreDecodePosition: 4, PostDecodePosition: 28},
	}
}

func TestRoundTripEveryVersion(t *testing.T) {
	versions := []uint16{0x1011, Version2012, Version2014, Version2015, Version2020, Version2021, Version2025}
	for _, version := range versions {
		t.Run(DescribeVersion(version), func(t *testing.T) {
			var buf bytes.Buffer
			in := sampleHeader()
			writer, err := NewVersionWriter(&buf, in, version)
			require.NoError(t, err)
			for _, record := range sampleRecords() {
				require.NoError(t, writer.WriteRecord(record))
			}
			require.NoError(t, writer.Flush())

			options := ReaderOptions{Locale: func(*Header) (byte, error) { return in.Locale, nil }}
			header, records, err := ReadAll(&buf, options)
			require.NoError(t, err)

			assert.Equal(t, version, header.Version)
			assert.Equal(t, in.LocalPort, header.LocalPort)
			assert.Equal(t, in.Locale, header.Locale)
			if version < VersionLegacyLimit {
				assert.Equal(t, version, header.Build)
			} else {
				assert.Equal(t, in.Build, header.Build)
			}
			if version >= Version2014 {
				assert.Equal(t, in.LocalEndpoint, header.LocalEndpoint)
				assert.Equal(t, in.RemoteEndpoint, header.RemoteEndpoint)
				assert.Equal(t, in.RemotePort, header.RemotePort)
			}
			if version >= Version2021 {
				assert.Equal(t, in.PatchLocation, header.PatchLocation)
			} else {
				assert.Empty(t, header.PatchLocation)
			}

			expected := sampleRecords()
			require.Len(t, records, len(expected))
			for i := range expected {
				assert.True(t, expected[i].Timestamp.Equal(records[i].Timestamp), "record %d timestamp", i)
				assert.Equal(t, expected[i].Outbound, records[i].Outbound, "record %d direction", i)
				assert.Equal(t, expected[i].Opcode, records[i].Opcode, "record %d opcode", i)
				assert.Equal(t, expected[i].Payload, records[i].Payload, "record %d payload", i)
				if version >= Version2025 {
					assert.Equal(t, expected[i].PreDecodePosition, records[i].PreDecodePosition)
					assert.Equal(t, expected[i].PostDecodePosition, records[i].PostDecodePosition)
				} else {
					assert.Zero(t, records[i].PostDecodePosition)
				}
			}
		})
	}
}

func TestCurrentVersionLayout(t *testing.T) {
	var buf bytes.Buffer
	header := Header{LocalEndpoint: "a", LocalPort: 1, RemoteEndpoint: "bc", RemotePort: 2, Locale: 3, Build: 4, PatchLocation: ""}
	writer, err := NewWriter(&buf, header)
	require.NoError(t, err)
	require.NoError(t, writer.WriteRecord(Record{
		Timestamp:          TicksToTime(0x0102030405060708),
		Outbound:           true,
		Opcode:             0xBEEF,
		Payload:            []byte{0x55},
		PreDecodePosition:  1,
		PostDecodePosition: 2,
	}))
	require.NoError(t, writer.Flush())

	expected := []byte{
		0x25, 0x20,
		0x01, 'a', 0x01, 0x00,
		0x02, 'b', 'c', 0x02, 0x00,
		0x03,
		0x04, 0x00,
		0x00,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x01, 0x00,
		0xEF, 0xBE,
		0x01,
		0x55,
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
	}
	assert.Equal(t, expected, buf.Bytes())
}

func TestLegacyOutboundBit(t *testing.T) {
	raw := []byte{
		0x12, 0x20,
		0x02, 0x00, 0x10, 0x00, 0x39, 0x30,
		0, 0, 0, 0, 0, 0, 0, 0,
		0x02, 0x80,
		0x34, 0x12,
		0xAA, 0xBB,
	}
	header, records, err := ReadAll(bytes.NewReader(raw), ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, byte(2), header.Locale)
	assert.Equal(t, uint16(0x10), header.Build)
	assert.Equal(t, uint16(12345), header.LocalPort)
	require.Len(t, records, 1)
	assert.True(t, records[0].Outbound)
	assert.Equal(t, uint16(0x1234), records[0].Opcode)
	assert.Equal(t, []byte{0xAA, 0xBB}, records[0].Payload)
}

func TestLegacyLocaleProvider(t *testing.T) {
	raw := []byte{0x99, 0x00, 0x01, 0x02}
	reader, err := NewReader(bytes.NewReader(raw), ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLocale, reader.Header().Locale)

	failure := errors.New("no locale chosen")
	_, err = NewReader(bytes.NewReader(raw), ReaderOptions{Locale: func(*Header) (byte, error) { return 0, failure }})
	assert.ErrorIs(t, err, failure)
}

func TestUnsupportedVersion(t *testing.T) {
	for _, version := range []uint16{0x2000, 0x2013, 0x2016, 0x201F} {
		raw := []byte{byte(version), byte(version >> 8), 0, 0, 0, 0}
		_, err := NewReader(bytes.NewReader(raw), ReaderOptions{})
		assert.ErrorIs(t, err, ErrUnsupportedVersion, DescribeVersion(version))

		_, err = NewVersionWriter(io.Discard, Header{}, version)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	}
}

func TestFutureMinorVersionReadsAsNewest(t *testing.T) {
	l, err := layoutFor(0x2030)
	require.NoError(t, err)
	assert.Same(t, layout2025, l)
	l, err = layoutFor(0x2023)
	require.NoError(t, err)
	assert.Same(t, layout2021, l)
}

func TestTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAll(&buf, sampleHeader(), sampleRecords()))
	full := buf.Bytes()

	_, _, err := ReadAll(bytes.NewReader(full[:1]), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ReadAll(bytes.NewReader(full[:10]), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, records, err := ReadAll(bytes.NewReader(full[:len(full)-3]), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Len(t, records, 2)
}

func TestEmptyCapture(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAll(&buf, sampleHeader(), nil))
	reader, err := NewReader(&buf, ReaderOptions{})
	require.NoError(t, err)
	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRecordTooLarge(t *testing.T) {
	writer, err := NewVersionWriter(io.Discard, sampleHeader(), Version2015)
	require.NoError(t, err)
	err = writer.WriteRecord(Record{Payload: make([]byte, 0x8000)})
	assert.ErrorIs(t, err, ErrRecordTooLarge)

	writer, err = NewWriter(io.Discard, sampleHeader())
	require.NoError(t, err)
	assert.NoError(t, writer.WriteRecord(Record{Payload: make([]byte, 0x8000)}))
}

func TestTicks(t *testing.T) {
	assert.Equal(t, int64(unixEpochInTicks), TimeToTicks(time.Unix(0, 0)))
	assert.True(t, TicksToTime(0).Equal(time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)))

	when := time.Date(2012, time.October, 10, 1, 2, 3, 400, time.UTC)
	assert.True(t, when.Equal(TicksToTime(TimeToTicks(when))))
}

func TestDescribeVersion(t *testing.T) {
	assert.Equal(t, "V2.0.2.5", DescribeVersion(0x2025))
	assert.Equal(t, "V0.0.9.9", DescribeVersion(0x0099))
}
