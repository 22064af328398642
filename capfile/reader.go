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

// LocaleProvider supplies the locale of legacy captures, which do not
// store it.
type LocaleProvider func(h *Header) (byte, error)

type ReaderOptions struct {
	// Locale is consulted for legacy captures.  If nil, DefaultLocale is
	// used.
	Locale LocaleProvider
}

// DefaultLocale is assumed for legacy captures without a LocaleProvider.
const DefaultLocale byte = 1

// Reader decodes a capture file.  The record layout is chosen once from
// the version tag when the Reader is created.
type Reader struct {
	decoder *decoder
	layout  *layout
	header  Header
	records int
}

// NewReader reads the version tag and header from r.
func NewReader(r io.Reader, options ReaderOptions) (*Reader, error) {
	d := newDecoder(r)
	version := d.uint16()
	if d.err != nil {
		return nil, d.err
	}
	l, err := layoutFor(version)
	if err != nil {
		return nil, err
	}
	reader := &Reader{
		decoder: d,
		layout:  l,
		header:  Header{Version: version},
	}
	if err := l.readHeader(d, &reader.header); err != nil {
		return nil, fmt.Errorf("capture header: %w", err)
	}
	if version < VersionLegacyLimit {
		reader.header.Locale = DefaultLocale
		if options.Locale != nil {
			locale, err := options.Locale(&reader.header)
			if err != nil {
				return nil, fmt.Errorf("legacy capture locale: %w", err)
			}
			reader.header.Locale = locale
		}
	}
	log.Debugf("loading capture saved by %s", DescribeVersion(version))
	return reader, nil
}

func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF once the file ends cleanly
// between records.
func (r *Reader) Next() (Record, error) {
	d := r.decoder
	if d.err != nil {
		return Record{}, d.err
	}
	if d.atEOF() {
		return Record{}, io.EOF
	}
	var record Record
	record.Timestamp = TicksToTime(d.int64())
	size := d.uint16()
	record.Opcode = d.uint16()
	if r.layout.outboundField {
		record.Outbound = d.uint8() != 0
	} else {
		record.Outbound = size&0x8000 != 0
		size &= 0x7FFF
	}
	record.Payload = d.bytes(int(size))
	if r.layout.keystreamPositions {
		record.PreDecodePosition = d.uint32()
		record.PostDecodePosition = d.uint32()
	}
	if d.err != nil {
		return Record{}, fmt.Errorf("record %d: %w", r.records, d.err)
	}
	r.records++
	return record, nil
}

// ReadAll reads the header and every record of r.
func ReadAll(r io.Reader, options ReaderOptions) (Header, []Record, error) {
	reader, err := NewReader(r, options)
	if err != nil {
		return Header{}, nil, err
	}
	records := []Record{}
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return reader.Header(), records, nil
		}
		if err != nil {
			return reader.Header(), records, err
		}
		records = append(records, record)
	}
}
