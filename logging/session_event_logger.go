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
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ncshark/ncshark/types"
)

const EventLogName = "sessions.events.json"

type SerializedEvent struct {
	Type         string
	Time         time.Time
	Flow         string
	MessageCount int
	Locale       byte
	Build        uint16
	Detail       string `json:",omitempty"`
}

// SessionEventLogger records session lifecycle events as one JSON object
// per line.
type SessionEventLogger struct {
	writer    io.Writer
	closer    io.Closer
	stopChan  chan bool
	eventChan chan *types.Event
}

// NewSessionEventLogger returns a SessionEventLogger writing to w.
func NewSessionEventLogger(w io.Writer) *SessionEventLogger {
	return &SessionEventLogger{
		writer:    w,
		stopChan:  make(chan bool),
		eventChan: make(chan *types.Event),
	}
}

// NewSessionEventFileLogger appends to the event log in logDir.
func NewSessionEventFileLogger(logDir string) (*SessionEventLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, EventLogName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	a := NewSessionEventLogger(f)
	a.closer = f
	return a, nil
}

func (a *SessionEventLogger) Start() {
	go a.receiveEvents()
}

func (a *SessionEventLogger) Stop() {
	a.stopChan <- true
	if a.closer != nil {
		a.closer.Close()
	}
}

func (a *SessionEventLogger) receiveEvents() {
	for {
		select {
		case <-a.stopChan:
			return
		case event := <-a.eventChan:
			a.SerializeAndWrite(event)
		}
	}
}

func (a *SessionEventLogger) Log(event *types.Event) {
	a.eventChan <- event
}

func (a *SessionEventLogger) SerializeAndWrite(event *types.Event) {
	serialized := &SerializedEvent{
		Type:         event.Type,
		Time:         event.Time,
		MessageCount: event.MessageCount,
		Locale:       event.Locale,
		Build:        event.Build,
		Detail:       event.Detail,
	}
	if event.Flow != nil {
		serialized.Flow = event.Flow.String()
	}
	a.Publish(serialized)
}

// Publish writes a single event line.
func (a *SessionEventLogger) Publish(event *SerializedEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		log.Errorf("event %s: %s", event.Type, err)
		return
	}
	if _, err = a.writer.Write(append(b, '\n')); err != nil {
		log.Errorf("event log: %s", err)
	}
}
