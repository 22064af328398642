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

// KeystreamLength is the period of the game's XOR keystream.
const KeystreamLength = 70

var keystreamTable = [KeystreamLength]byte{
	0xDE, 0x90, 0xC3, 0xA6, 0xE2, 0xF6, 0xDC, 0xE8, 0x0A, 0x6F,
	0xAA, 0xE6, 0xA6, 0xA8, 0xE5, 0x6B, 0x44, 0xB5, 0xCB, 0x9F,
	0x0A, 0x36, 0x09, 0x46, 0xA0, 0x6D, 0x30, 0xED, 0x3E, 0x15,
	0x38, 0x07, 0x44, 0xB5, 0xCB, 0x9F, 0x9A, 0x82, 0x37, 0xD3,
	0x90, 0xB4, 0x87, 0xFC, 0xCE, 0xB7, 0xC5, 0x54, 0xAF, 0xC2,
	0x3E, 0x3E, 0xAB, 0xE1, 0x5A, 0xAA, 0x3E, 0x3B, 0x6A, 0xA5,
	0xAD, 0x52, 0xE2, 0xDD, 0x80, 0x8F, 0xC6, 0xA6, 0x31, 0x02,
}

// KeystreamCipher is the XOR state of one direction of one session.
// It is not safe for concurrent use; the owning session serializes access.
type KeystreamCipher struct {
	position uint32
}

// NewKeystreamCipher returns a cipher positioned at the start of the table.
func NewKeystreamCipher() *KeystreamCipher {
	return &KeystreamCipher{}
}

// Reset rewinds the keystream to the start of the table.
func (k *KeystreamCipher) Reset() {
	k.position = 0
}

// Apply XORs buf in place and advances the keystream by len(buf).
func (k *KeystreamCipher) Apply(buf []byte) {
	for i := range buf {
		buf[i] ^= keystreamTable[k.position]
		k.position++
		if k.position == KeystreamLength {
			k.position = 0
		}
	}
}

// Position returns the index of the next table byte to be used.
func (k *KeystreamCipher) Position() uint32 {
	return k.position
}
