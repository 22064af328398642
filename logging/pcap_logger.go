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

package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/ncshark/ncshark/types"
)

const pcapSnaplen = 65536

type TimedPacket struct {
	RawPacket []byte
	Timestamp time.Time
}

// PcapLogger writes the raw frames of one session to a rotating pcap log.
// When the session ends the log is either moved to ArchiveDir or removed.
type PcapLogger struct {
	packetChan  chan TimedPacket
	stopChan    chan bool
	LogDir      string
	ArchiveDir  string
	Flow        *types.TcpIpFlow
	fileWriter  io.WriteCloser
	frame       bytes.Buffer
	frameWriter *pcapgo.Writer
	pcapLogNum  int
	pcapQuota   int
	basename    string

	// AckChan, when set, receives after each packet is written.
	AckChan *chan bool
}

// NewPcapLogger returns a logger for flow.  Nothing is written until Start.
func NewPcapLogger(logDir, archiveDir string, flow *types.TcpIpFlow, pcapLogNum int, pcapQuota int) *PcapLogger {
	p := &PcapLogger{
		packetChan: make(chan TimedPacket),
		stopChan:   make(chan bool),
		Flow:       flow,
		LogDir:     logDir,
		ArchiveDir: archiveDir,
		pcapLogNum: pcapLogNum,
		pcapQuota:  pcapQuota,
		basename:   filepath.Join(logDir, fmt.Sprintf("%s.pcap", flow)),
	}
	p.frameWriter = pcapgo.NewWriter(&p.frame)
	return p
}

type PcapLoggerFactory struct {
	LogDir     string
	ArchiveDir string
	PcapLogNum int
	PcapQuota  int
}

func NewPcapLoggerFactory(logDir, archiveDir string, pcapLogNum, pcapQuota int) PcapLoggerFactory {
	return PcapLoggerFactory{
		LogDir:     logDir,
		ArchiveDir: archiveDir,
		PcapLogNum: pcapLogNum,
		PcapQuota:  pcapQuota,
	}
}

func (f PcapLoggerFactory) Build(flow *types.TcpIpFlow) types.PacketLogger {
	return NewPcapLogger(f.LogDir, f.ArchiveDir, flow, f.PcapLogNum, f.PcapQuota)
}

// SetFileWriter replaces the rotating log with w.
func (p *PcapLogger) SetFileWriter(w io.WriteCloser) {
	p.fileWriter = w
}

func (p *PcapLogger) WriteHeader() error {
	return pcapgo.NewWriter(p.fileWriter).WriteFileHeader(pcapSnaplen, layers.LinkTypeEthernet)
}

func (p *PcapLogger) Start() {
	if p.fileWriter == nil {
		p.fileWriter = NewRotatingQuotaWriter(p.basename, p.pcapQuota, p.pcapLogNum, p.WriteHeader)
	}
	go p.logPackets()
}

func (p *PcapLogger) Stop() {
	p.stopChan <- true
	if err := p.fileWriter.Close(); err != nil {
		log.Warningf("closing %s: %s", p.basename, err)
	}
}

func (p *PcapLogger) logFiles() []string {
	files := []string{p.basename}
	for i := 1; i < p.pcapLogNum; i++ {
		files = append(files, fmt.Sprintf("%s.%d", p.basename, i))
	}
	return files
}

// Archive moves the logs of this session into ArchiveDir.
func (p *PcapLogger) Archive() {
	if err := os.MkdirAll(p.ArchiveDir, 0755); err != nil {
		log.Warningf("archive: %s", err)
		return
	}
	for _, name := range p.logFiles() {
		err := os.Rename(name, filepath.Join(p.ArchiveDir, filepath.Base(name)))
		if err != nil && !os.IsNotExist(err) {
			log.Warningf("archive: %s", err)
		}
	}
}

// Remove deletes the logs of this session.
func (p *PcapLogger) Remove() {
	for _, name := range p.logFiles() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			log.Warningf("remove: %s", err)
		}
	}
}

func (p *PcapLogger) logPackets() {
	for {
		select {
		case <-p.stopChan:
			return
		case timedPacket := <-p.packetChan:
			if err := p.WritePacketToFile(timedPacket.RawPacket, timedPacket.Timestamp); err != nil {
				log.Warningf("%s: %s", p.basename, err)
			}
			if p.AckChan != nil {
				*p.AckChan <- true
			}
		}
	}
}

func (p *PcapLogger) WritePacket(rawPacket []byte, timestamp time.Time) {
	p.packetChan <- TimedPacket{
		RawPacket: rawPacket,
		Timestamp: timestamp,
	}
}

// WritePacketToFile writes one pcap record.  The record header and frame
// go out in a single Write so a rotation never splits them.
func (p *PcapLogger) WritePacketToFile(rawPacket []byte, timestamp time.Time) error {
	p.frame.Reset()
	err := p.frameWriter.WritePacket(gopacket.CaptureInfo{
		Timestamp:     timestamp,
		CaptureLength: len(rawPacket),
		Length:        len(rawPacket),
	}, rawPacket)
	if err != nil {
		return err
	}
	_, err = p.fileWriter.Write(p.frame.Bytes())
	return err
}
