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

package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
)

type SnifferDriverOptions struct {
	DAQ          string
	Filename     string
	Device       string
	Snaplen      int32
	WireDuration time.Duration
	Filter       string
}

// ErrTimeout is returned by a live driver whose read timed out with no
// packet.  The read may simply be retried.
var ErrTimeout = errors.New("packet read timeout")

// PacketDataSourceCloser is an interface for some source of packet data.
type PacketDataSourceCloser interface {
	// ReadPacketData returns the next packet available from this data source.
	// It returns:
	//  data:  The bytes of an individual packet.
	//  ci:  Metadata about the capture
	//  err:  An error encountered while reading packet data.  If err != nil,
	//    then data/ci will be ignored.
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	// Close closes the ethernet sniffer and returns nil if no error was found.
	Close() error
}

// Segment is one demultiplexed TCP segment as delivered by the capture
// side. Ownership of Payload passes to whoever receives the Segment.
type Segment struct {
	Timestamp time.Time
	Flow      TcpIpFlow
	Seq       Sequence
	Ack       Sequence
	SYN       bool
	ACK       bool
	FIN       bool
	RST       bool
	Payload   []byte
	RawPacket []byte
}

// IsSynNoAck reports whether this is the opening segment of a handshake.
func (s *Segment) IsSynNoAck() bool {
	return s.SYN && !s.ACK
}

func (s Segment) String() string {
	var buffer bytes.Buffer
	buffer.WriteString(fmt.Sprintf("TCP Flow: %s\n", s.Flow.String()))
	buffer.WriteString(fmt.Sprintf("TCP Sequence %d SYN %v ACK %v FIN %v RST %v\n", s.Seq, s.SYN, s.ACK, s.FIN, s.RST))
	buffer.WriteString("Segment payload hex dump:\n")
	buffer.WriteString(hex.Dump(s.Payload))
	return buffer.String()
}
