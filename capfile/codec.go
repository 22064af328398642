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
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// maxStringLength bounds header strings so a corrupt length prefix cannot
// trigger a huge allocation.
const maxStringLength = 1 << 16

var errStringTooLong = errors.New("header string too long")

// decoder reads little-endian fields and remembers the first error, so a
// layout can read a whole header and check once.
type decoder struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func newDecoder(r io.Reader) *decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &decoder{r: br}
}

func (d *decoder) fill(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		d.err = truncated(err)
	}
	return d.buf[:n]
}

func (d *decoder) uint8() byte {
	return d.fill(1)[0]
}

func (d *decoder) uint16() uint16 {
	return binary.LittleEndian.Uint16(d.fill(2))
}

func (d *decoder) uint32() uint32 {
	return binary.LittleEndian.Uint32(d.fill(4))
}

func (d *decoder) int64() int64 {
	return int64(binary.LittleEndian.Uint64(d.fill(8)))
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = truncated(err)
		return nil
	}
	return b
}

// string reads a 7-bit varint length followed by that many UTF-8 bytes.
func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.err = truncated(err)
		return ""
	}
	if n > maxStringLength {
		d.err = errStringTooLong
		return ""
	}
	return string(d.bytes(int(n)))
}

// atEOF reports whether the input ended exactly at a record boundary.
func (d *decoder) atEOF() bool {
	if d.err != nil {
		return false
	}
	_, err := d.r.Peek(1)
	return err == io.EOF
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

// encoder is the writing counterpart of decoder.
type encoder struct {
	w   *bufio.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: bufio.NewWriter(w)}
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) uint8(v byte) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *encoder) uint16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:2], v)
	e.write(e.buf[:2])
}

func (e *encoder) uint32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) int64(v int64) {
	binary.LittleEndian.PutUint64(e.buf[:8], uint64(v))
	e.write(e.buf[:8])
}

func (e *encoder) string(s string) {
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	n := binary.PutUvarint(e.buf[:], uint64(len(s)))
	e.write(e.buf[:n])
	e.write([]byte(s))
}

func (e *encoder) flush() error {
	if e.err != nil {
		return e.err
	}
	e.err = e.w.Flush()
	return e.err
}
