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

package capfile

import (
	"fmt"
	"io"
)

// Writer encodes a capture file.
type Writer struct {
	encoder *encoder
	layout  *layout
	header  Header
}

// NewWriter writes the header of a CurrentVersion capture to w.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	return NewVersionWriter(w, header, CurrentVersion)
}

// NewVersionWriter writes the header using the layout of version.  Fields
// the layout does not carry are dropped.
func NewVersionWriter(w io.Writer, header Header, version uint16) (*Writer, error) {
	l, err := layoutFor(version)
	if err != nil {
		return nil, err
	}
	header.Version = version
	e := newEncoder(w)
	e.uint16(version)
	l.writeHeader(e, &header)
	if e.err != nil {
		return nil, fmt.Errorf("capture header: %w", e.err)
	}
	return &Writer{
		encoder: e,
		layout:  l,
		header:  header,
	}, nil
}

func (w *Writer) Header() Header {
	return w.header
}

// WriteRecord appends one record.  Call Flush when done.
func (w *Writer) WriteRecord(record Record) error {
	if len(record.Payload) > w.layout.maxPayload() {
		return fmt.Errorf("%d bytes in %s: %w", len(record.Payload), DescribeVersion(w.header.Version), ErrRecordTooLarge)
	}
	e := w.encoder
	e.int64(TimeToTicks(record.Timestamp))
	size := uint16(len(record.Payload))
	if w.layout.outboundField {
		e.uint16(size)
		e.uint16(record.Opcode)
		if record.Outbound {
			e.uint8(1)
		} else {
			e.uint8(0)
		}
	} else {
		if record.Outbound {
			size |= 0x8000
		}
		e.uint16(size)
		e.uint16(record.Opcode)
	}
	e.write(record.Payload)
	if w.layout.keystreamPositions {
		e.uint32(record.PreDecodePosition)
		e.uint32(record.PostDecodePosition)
	}
	return e.err
}

func (w *Writer) Flush() error {
	return w.encoder.flush()
}

// WriteAll writes a complete CurrentVersion capture.
func WriteAll(w io.Writer, header Header, records []Record) error {
	writer, err := NewWriter(w, header)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.WriteRecord(record); err != nil {
			return err
		}
	}
	return writer.Flush()
}
