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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CaptureSaver writes every finished session into Dir.
type CaptureSaver struct {
	Dir string
}

// CaptureFileName names the capture of a session.
func CaptureFileName(s *Session) string {
	return fmt.Sprintf("Port %d-%s.msb", s.LocalPort(), s.Created().UTC().Format("20060102-150405"))
}

func (c *CaptureSaver) SessionClosed(s *Session) {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		log.Errorf("capture directory: %s", err)
		return
	}
	path := uniquePath(filepath.Join(c.Dir, CaptureFileName(s)))
	if err := s.Save(path); err != nil {
		log.Errorf("%s", err)
		return
	}
	log.Infof("saved %d messages to %s", s.MessageCount(), path)
}

// uniquePath numbers path ("name-1.msb", "name-2.msb" ...) until it
// names no existing file.
func uniquePath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

// SessionSinks hands each session to every sink in turn.
type SessionSinks []SessionSink

func (s SessionSinks) SessionClosed(session *Session) {
	for _, sink := range s {
		sink.SessionClosed(session)
	}
}
