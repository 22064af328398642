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
	"time"

	"github.com/ncshark/ncshark/types"
)

// DirectionState is everything one half of a session needs to turn
// segments into messages.
type DirectionState struct {
	Direction   types.Direction
	reassembler *Reassembler
	framer      *Framer
	sink        types.StreamSink
}

// NewDirectionState returns the state of one direction, drawing pending
// pages from pager.
func NewDirectionState(direction types.Direction, pager *Pager, options ReassemblerOptions) *DirectionState {
	return &DirectionState{
		Direction:   direction,
		reassembler: NewReassembler(types.TcpIpFlow{}, pager, options),
		framer:      NewFramer(direction),
	}
}

// SetFlow names the flow this direction carries, for diagnostics.
func (d *DirectionState) SetFlow(flow types.TcpIpFlow) {
	d.reassembler.Flow = flow
}

func (d *DirectionState) SetStreamSink(sink types.StreamSink) {
	d.sink = sink
}

// Receive feeds one payload through reassembly, decryption and framing.
// Each chunk released by the reassembler is framed on its own.
func (d *DirectionState) Receive(seq types.Sequence, payload []byte, seen time.Time) ([]types.Message, error) {
	chunks, err := d.reassembler.Receive(seq, payload, seen)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	if d.sink != nil {
		d.sink.Reassembled(chunks)
	}
	messages := []types.Message{}
	for _, chunk := range chunks {
		d.framer.Append(chunk)
		if message, ok := d.framer.TryExtract(); ok {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

// Close releases buffered segments and returns the bytes of an
// incomplete message, if any.
func (d *DirectionState) Close() []byte {
	d.reassembler.Close()
	if d.sink != nil {
		d.sink.ReassemblyComplete()
		d.sink = nil
	}
	return d.framer.Residue()
}
