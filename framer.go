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

package ncshark

import (
	"encoding/binary"
	"time"

	"github.com/ncshark/ncshark/types"
)

// MinimumHeaderLength is the number of decrypted bytes a message needs:
// two housekeeping bytes and a little-endian opcode.
const MinimumHeaderLength = 4

// Framer slices the decrypted stream of one direction into messages.
// Everything buffered when a message is extracted belongs to that message.
type Framer struct {
	direction      types.Direction
	buf            []byte
	cursor         int
	seen           time.Time
	keystreamStart uint32
	keystreamEnd   uint32
}

// NewFramer returns a Framer for messages travelling in direction.
func NewFramer(direction types.Direction) *Framer {
	return &Framer{
		direction: direction,
	}
}

// Append adds a decrypted chunk to the stream buffer.
func (f *Framer) Append(chunk types.Reassembly) {
	if f.Buffered() == 0 {
		f.keystreamStart = chunk.KeystreamStart
	}
	f.buf = append(f.buf, chunk.Bytes...)
	f.keystreamEnd = chunk.KeystreamEnd
	f.seen = chunk.Seen
}

// Buffered returns the number of bytes not yet handed out in a message.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.cursor
}

// TryExtract returns the buffered bytes as one message, or false when
// fewer than MinimumHeaderLength bytes are buffered.
func (f *Framer) TryExtract() (types.Message, bool) {
	data := f.buf[f.cursor:]
	if len(data) < MinimumHeaderLength {
		return types.Message{}, false
	}
	payload := make([]byte, len(data)-MinimumHeaderLength)
	copy(payload, data[MinimumHeaderLength:])
	message := types.Message{
		Timestamp:          f.seen,
		Direction:          f.direction,
		Opcode:             binary.LittleEndian.Uint16(data[2:4]),
		Payload:            payload,
		PreDecodePosition:  f.keystreamStart,
		PostDecodePosition: f.keystreamEnd,
	}
	f.cursor = len(f.buf)
	f.compact()
	return message, true
}

// Residue returns and forgets the bytes of an incomplete message.
func (f *Framer) Residue() []byte {
	residue := append([]byte(nil), f.buf[f.cursor:]...)
	f.cursor = len(f.buf)
	f.compact()
	return residue
}

func (f *Framer) compact() {
	if f.cursor == len(f.buf) {
		f.buf = f.buf[:0]
		f.cursor = 0
	}
}
