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
	"time"
)

// Session lifecycle event types recorded by a Logger.
const (
	EventCreated      = "created"
	EventTerminated   = "terminated"
	EventClosedIdle   = "closed-idle"
	EventDesync       = "desynchronized"
	EventSaved        = "saved"
	EventResidueDrop  = "residue-dropped"
	EventUnidentified = "unidentified"
)

type Logger interface {
	Log(r *Event)
}

type PacketLogger interface {
	WritePacket(rawPacket []byte, timestamp time.Time)
	Start()
	Stop()
	Remove()
	Archive()
}

type PacketLoggerFactory interface {
	Build(*TcpIpFlow) PacketLogger
}

// StreamSink receives the decrypted, in-order chunks of one direction.
type StreamSink interface {
	Reassembled([]Reassembly)
	ReassemblyComplete()
}

type StreamSinkFactory interface {
	Build(flow *TcpIpFlow, outbound bool) StreamSink
}

type Event struct {
	Type         string
	Flow         *TcpIpFlow
	Time         time.Time
	MessageCount int
	Locale       byte
	Build        uint16
	Detail       string
}
