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
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ncshark/ncshark/types"
)

// StreamLogger is used to persist the decrypted byte stream of one
// direction of a session.  It implements types.StreamSink.
type StreamLogger struct {
	dir         string
	flow        types.TcpIpFlow
	stopChan    chan bool
	receiveChan chan []types.Reassembly
	byteCount   int64 // total bytes seen on this stream.
	writer      io.WriteCloser
}

func NewStreamLogger(dir string, flow types.TcpIpFlow) *StreamLogger {
	return &StreamLogger{
		dir:         dir,
		flow:        flow,
		stopChan:    make(chan bool),
		receiveChan: make(chan []types.Reassembly),
	}
}

func (s *StreamLogger) Start() error {
	if s.writer == nil {
		f, err := os.OpenFile(filepath.Join(s.dir, fmt.Sprintf("%s.stream", s.flow.String())), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			return fmt.Errorf("error opening stream log: %w", err)
		}
		s.writer = f
	}
	go s.receiveReassembly()
	return nil
}

func (s *StreamLogger) Stop() {
	s.stopChan <- true
	s.writer.Close()
}

func (s *StreamLogger) receiveReassembly() {
	for {
		select {
		case <-s.stopChan:
			return
		case res := <-s.receiveChan:
			s.persistStreamReassembly(res)
		}
	}
}

// Reassembled queues a copy of r; the caller reuses its slice.
func (s *StreamLogger) Reassembled(r []types.Reassembly) {
	s.receiveChan <- append([]types.Reassembly(nil), r...)
}

func (s *StreamLogger) persistStreamReassembly(rs []types.Reassembly) {
	for _, r := range rs {
		s.byteCount += int64(len(r.Bytes))
		if _, err := s.writer.Write(r.Bytes); err != nil {
			log.Warningf("%s stream: %s", s.flow.String(), err)
		}
	}
}

func (s *StreamLogger) ReassemblyComplete() {
	log.Debugf("%s: ReassemblyComplete() wrote %d bytes", s.flow.String(), s.byteCount)
	s.Stop()
}

// StreamLoggerFactory builds a StreamLogger per session direction.
type StreamLoggerFactory struct {
	Dir string
}

func (f StreamLoggerFactory) Build(flow *types.TcpIpFlow, outbound bool) types.StreamSink {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		log.Warningf("stream log directory: %s", err)
		return discardSink{}
	}
	s := NewStreamLogger(f.Dir, *flow)
	if err := s.Start(); err != nil {
		log.Warningf("%s", err)
		return discardSink{}
	}
	return s
}

type discardSink struct{}

func (discardSink) Reassembled([]types.Reassembly) {}
func (discardSink) ReassemblyComplete()            {}
