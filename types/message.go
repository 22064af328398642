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
	"fmt"
	"time"
)

// Direction names one half of a connection.
type Direction uint8

const (
	Outbound Direction = iota // client to server
	Inbound                   // server to client
)

func (d Direction) String() string {
	if d == Outbound {
		return "Outbound"
	}
	return "Inbound"
}

// IsOutbound is a convenience for the boolean form used by the capture
// format and the name resolver.
func (d Direction) IsOutbound() bool {
	return d == Outbound
}

// DirectionOf maps the boolean outbound flag back to a Direction.
func DirectionOf(outbound bool) Direction {
	if outbound {
		return Outbound
	}
	return Inbound
}

// Message is one decoded application packet.
type Message struct {
	Timestamp time.Time
	Direction Direction
	Opcode    uint16
	Payload   []byte
	Index     int

	// keystream positions around the decryption of this message
	PreDecodePosition  uint32
	PostDecodePosition uint32
}

func (m Message) String() string {
	return fmt.Sprintf("#%d %s 0x%04X len %d", m.Index, m.Direction, m.Opcode, len(m.Payload))
}

// Definition is what a Resolver knows about an opcode.
type Definition struct {
	Locale   byte   `yaml:"locale"`
	Outbound bool   `yaml:"outbound"`
	Opcode   uint16 `yaml:"opcode"`
	Name     string `yaml:"name"`
	Ignore   bool   `yaml:"ignore"`
}

func (d Definition) String() string {
	return fmt.Sprintf("Locale: %d; Name: %s; Opcode: 0x%04X; Outbound: %v; Ignored: %v", d.Locale, d.Name, d.Opcode, d.Outbound, d.Ignore)
}

// Resolver looks up the display name and ignore flag of an opcode.
type Resolver interface {
	ResolveName(outbound bool, opcode uint16) (Definition, bool)
}

// NopResolver knows no opcodes.
type NopResolver struct{}

func (NopResolver) ResolveName(bool, uint16) (Definition, bool) {
	return Definition{}, false
}
