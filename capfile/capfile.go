/*
 *    NCShark core library for reconstructing encrypted game sessions
 *
 *    Copyright (C) 2014, 2015  David Stainton
 *
 *    This program is free software: you can redistribute it and/or modify
 *    it under the terms of the GNU General Public License as published by
 *    the Free Software Foundation, either version 3 of the License, or
 *    (at your option) any later version.
 *
 *    This program is distributed in the hope that it will be useful,
 *    but WITHOUT ANY WARRANTY; without even the implied warranty of
 *    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *    GNU General Public License for more details.
 *
 *    You should have received a copy of the GNU General Public License
 *    along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package capfile reads and writes session capture files.  A file is a
// version tag, a header whose layout depends on the tag, and message
// records until the end of the file.  All integers are little-endian.
package capfile

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("capfile")

// Capture file revisions.  Tags below VersionLegacyLimit use the legacy
// header that only stores the local port.
const (
	VersionLegacyLimit uint16 = 0x2000
	Version2012        uint16 = 0x2012
	Version2014        uint16 = 0x2014
	Version2015        uint16 = 0x2015
	Version2020        uint16 = 0x2020
	Version2021        uint16 = 0x2021
	Version2025        uint16 = 0x2025

	// CurrentVersion is what NewWriter emits.
	CurrentVersion = Version2025
)

var (
	ErrUnsupportedVersion = errors.New("unsupported capture version")
	ErrTruncated          = fmt.Errorf("truncated capture file: %w", io.ErrUnexpectedEOF)
	ErrRecordTooLarge     = errors.New("record payload too large for capture version")
)

// Header is the session metadata stored in front of the records.
type Header struct {
	Version        uint16
	LocalEndpoint  string
	LocalPort      uint16
	RemoteEndpoint string
	RemotePort     uint16
	Locale         byte
	Build          uint16
	PatchLocation  string
}

// Record is one stored message.  Payload excludes the opcode.
type Record struct {
	Timestamp          time.Time
	Outbound           bool
	Opcode             uint16
	Payload            []byte
	PreDecodePosition  uint32
	PostDecodePosition uint32
}

func (r Record) String() string {
	direction := "Inbound"
	if r.Outbound {
		direction = "Outbound"
	}
	return fmt.Sprintf("%s %s 0x%04X len %d", r.Timestamp.Format(timestampLayout), direction, r.Opcode, len(r.Payload))
}

// DescribeVersion renders a version tag one nibble per component.
func DescribeVersion(version uint16) string {
	return fmt.Sprintf("V%d.%d.%d.%d", (version>>12)&0xF, (version>>8)&0xF, (version>>4)&0xF, version&0xF)
}

// .NET DateTime ticks are 100ns intervals since 0001-01-01.
const (
	ticksPerSecond     = 10000000
	unixEpochInTicks   = 621355968000000000
	nanosecondsPerTick = 100
)

// TicksToTime converts a stored timestamp.
func TicksToTime(ticks int64) time.Time {
	ticks -= unixEpochInTicks
	seconds := ticks / ticksPerSecond
	remainder := ticks % ticksPerSecond
	if remainder < 0 {
		seconds--
		remainder += ticksPerSecond
	}
	return time.Unix(seconds, remainder*nanosecondsPerTick).UTC()
}

// TimeToTicks converts a timestamp for storage.  Precision below 100ns is
// lost.
func TimeToTicks(t time.Time) int64 {
	seconds := t.Unix()
	return seconds*ticksPerSecond + int64(t.Nanosecond())/nanosecondsPerTick + unixEpochInTicks
}
