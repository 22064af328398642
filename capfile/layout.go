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
)

// layout describes one revision of the format.  It is picked once per file
// from the version tag.
type layout struct {
	readHeader  func(d *decoder, h *Header) error
	writeHeader func(e *encoder, h *Header)

	// outboundField is set when the direction is a byte of its own rather
	// than the high bit of the size.
	outboundField bool
	// keystreamPositions is set when each record ends with the cipher
	// positions around its decryption.
	keystreamPositions bool
}

func (l *layout) maxPayload() int {
	if l.outboundField {
		return 0xFFFF
	}
	return 0x7FFF
}

var (
	legacyLayout = &layout{
		readHeader: func(d *decoder, h *Header) error {
			h.LocalPort = d.uint16()
			h.Build = h.Version
			return d.err
		},
		writeHeader: func(e *encoder, h *Header) {
			e.uint16(h.LocalPort)
		},
	}
	layout2012 = &layout{
		readHeader: func(d *decoder, h *Header) error {
			h.Locale = byte(d.uint16())
			h.Build = d.uint16()
			h.LocalPort = d.uint16()
			return d.err
		},
		writeHeader: func(e *encoder, h *Header) {
			e.uint16(uint16(h.Locale))
			e.uint16(h.Build)
			e.uint16(h.LocalPort)
		},
	}
	layout2014 = &layout{
		readHeader: func(d *decoder, h *Header) error {
			readEndpoints(d, h)
			h.Locale = byte(d.uint16())
			h.Build = d.uint16()
			return d.err
		},
		writeHeader: func(e *encoder, h *Header) {
			writeEndpoints(e, h)
			e.uint16(uint16(h.Locale))
			e.uint16(h.Build)
		},
	}
	layout2015 = &layout{
		readHeader:  readHeader2015,
		writeHeader: writeHeader2015,
	}
	layout2020 = &layout{
		readHeader:    readHeader2015,
		writeHeader:   writeHeader2015,
		outboundField: true,
	}
	layout2021 = &layout{
		readHeader:    readHeader2021,
		writeHeader:   writeHeader2021,
		outboundField: true,
	}
	layout2025 = &layout{
		readHeader:         readHeader2021,
		writeHeader:        writeHeader2021,
		outboundField:      true,
		keystreamPositions: true,
	}
)

// layoutFor maps a version tag onto its layout.  Unknown tags of the
// 0x2020 family are read with the newest layout they are at least.
func layoutFor(version uint16) (*layout, error) {
	switch {
	case version < VersionLegacyLimit:
		return legacyLayout, nil
	case version == Version2012:
		return layout2012, nil
	case version == Version2014:
		return layout2014, nil
	case version == Version2015:
		return layout2015, nil
	case version >= Version2025:
		return layout2025, nil
	case version >= Version2021:
		return layout2021, nil
	case version >= Version2020:
		return layout2020, nil
	}
	return nil, fmt.Errorf("%s (0x%04X): %w", DescribeVersion(version), version, ErrUnsupportedVersion)
}

func readEndpoints(d *decoder, h *Header) {
	h.LocalEndpoint = d.string()
	h.LocalPort = d.uint16()
	h.RemoteEndpoint = d.string()
	h.RemotePort = d.uint16()
}

func writeEndpoints(e *encoder, h *Header) {
	e.string(h.LocalEndpoint)
	e.uint16(h.LocalPort)
	e.string(h.RemoteEndpoint)
	e.uint16(h.RemotePort)
}

func readHeader2015(d *decoder, h *Header) error {
	readEndpoints(d, h)
	h.Locale = d.uint8()
	h.Build = d.uint16()
	return d.err
}

func writeHeader2015(e *encoder, h *Header) {
	writeEndpoints(e, h)
	e.uint8(h.Locale)
	e.uint16(h.Build)
}

func readHeader2021(d *decoder, h *Header) error {
	readHeader2015(d, h)
	h.PatchLocation = d.string()
	return d.err
}

func writeHeader2021(e *encoder, h *Header) {
	writeHeader2015(e, h)
	e.string(h.PatchLocation)
}
