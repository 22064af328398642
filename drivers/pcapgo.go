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

package drivers

import (
	"bufio"
	"bytes"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/ncshark/ncshark/types"
)

func init() {
	SnifferRegister("pcapgo", NewPcapgoHandle)
}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapgoHandle reads pcap and pcapng files without libpcap.
type PcapgoHandle struct {
	reader packetReader
	file   *os.File
}

func NewPcapgoHandle(options *types.SnifferDriverOptions) (types.PacketDataSourceCloser, error) {
	file, err := os.Open(options.Filename)
	if err != nil {
		return nil, err
	}
	buffered := bufio.NewReader(file)
	magic, err := buffered.Peek(len(pcapngMagic))
	if err != nil {
		file.Close()
		return nil, err
	}

	var reader packetReader
	if bytes.Equal(magic, pcapngMagic) {
		reader, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		reader, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return &PcapgoHandle{
		reader: reader,
		file:   file,
	}, nil
}

func (a *PcapgoHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return a.reader.ReadPacketData()
}

func (a *PcapgoHandle) Close() error {
	return a.file.Close()
}
