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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/ncshark/ncshark/capfile"
	"github.com/ncshark/ncshark/types"
)

var log = logging.MustGetLogger("ncshark")

var (
	ErrUnidentifiedConnection = errors.New("cannot resolve connection endpoints")
	ErrMetadataFrozen         = errors.New("session metadata is frozen once messages are logged")
	ErrSessionTerminated      = errors.New("session is terminated")
	ErrNoSuchMessage          = errors.New("no such message")
)

// DefaultIdleCloseAfter is how long a session may stay without messages
// before CloseMe reports it.
const DefaultIdleCloseAfter = 5 * time.Second

// Results tells the caller what to do with a session after a segment.
type Results int

const (
	Continue Results = iota
	Terminated
	// CloseMe means the session never logged anything and should be
	// discarded.
	CloseMe
)

func (r Results) String() string {
	switch r {
	case Continue:
		return "Continue"
	case Terminated:
		return "Terminated"
	case CloseMe:
		return "CloseMe"
	}
	return "Results(" + strconv.Itoa(int(r)) + ")"
}

type SessionState int

const (
	StateCreated SessionState = iota
	StateActive
	StateTerminated
	StateClosedIdle
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	case StateClosedIdle:
		return "ClosedIdle"
	}
	return "SessionState(" + strconv.Itoa(int(s)) + ")"
}

type SessionOptions struct {
	Pager          *Pager
	Reassembler    ReassemblerOptions
	IdleCloseAfter time.Duration
	// ProxyPort, if set, replaces the remote port when matching segments.
	ProxyPort uint16
	Locale    byte
	Build     uint16
	// Logger receives lifecycle events.  May be nil.
	Logger types.Logger
	// StreamSinkFactory, if set, receives each direction's decrypted chunks.
	StreamSinkFactory types.StreamSinkFactory
}

// OpcodeKey identifies an opcode in one direction.
type OpcodeKey struct {
	Outbound bool
	Opcode   uint16
}

func (k OpcodeKey) String() string {
	return fmt.Sprintf("%s 0x%04X", types.DirectionOf(k.Outbound), k.Opcode)
}

// ViewFilter selects which messages Refresh returns.
type ViewFilter struct {
	Outbound bool
	Inbound  bool
	Ignored  bool
}

var DefaultViewFilter = ViewFilter{Outbound: true, Inbound: true, Ignored: true}

// ViewItem is a message with its resolved name.
type ViewItem struct {
	types.Message
	Name    string
	Ignored bool
}

// Session records the messages of one game connection.  It is safe for
// concurrent use.
type Session struct {
	sync.Mutex

	options        SessionOptions
	state          SessionState
	readOnly       bool
	desync         bool
	cleared        bool
	saved          bool
	localEndpoint  string
	localPort      uint16
	remoteEndpoint string
	remotePort     uint16
	proxyEndpoint  string
	locale         byte
	build          uint16
	patchLocation  string
	flow           types.TcpIpFlow
	created        time.Time
	lastSeen       time.Time
	outbound       *DirectionState
	inbound        *DirectionState
	messages       []types.Message
	packetLogger   types.PacketLogger
}

// NewSession returns a session waiting for its SYN.  A nil Pager gets a
// private one.
func NewSession(options SessionOptions) *Session {
	if options.Pager == nil {
		options.Pager = NewPager(0)
	}
	if options.IdleCloseAfter == 0 {
		options.IdleCloseAfter = DefaultIdleCloseAfter
	}
	locale := options.Locale
	if locale == 0 {
		locale = capfile.DefaultLocale
	}
	s := &Session{
		options:        options,
		state:          StateCreated,
		localEndpoint:  "???",
		remoteEndpoint: "???",
		proxyEndpoint:  "???",
		locale:         locale,
		build:          options.Build,
		created:        time.Now(),
		outbound:       NewDirectionState(types.Outbound, options.Pager, options.Reassembler),
		inbound:        NewDirectionState(types.Inbound, options.Pager, options.Reassembler),
	}
	return s
}

func (s *Session) SetPacketLogger(logger types.PacketLogger) {
	s.Lock()
	defer s.Unlock()
	s.packetLogger = logger
}

// Receive processes one segment of this connection.
func (s *Session) Receive(seg *types.Segment) (Results, error) {
	s.Lock()
	defer s.Unlock()

	if s.terminal() {
		return s.result(), ErrSessionTerminated
	}
	if s.lastSeen.Before(seg.Timestamp) {
		s.lastSeen = seg.Timestamp
	}
	if s.packetLogger != nil && seg.RawPacket != nil {
		s.packetLogger.WritePacket(seg.RawPacket, seg.Timestamp)
	}

	if seg.IsSynNoAck() {
		if err := s.handshake(seg); err != nil {
			return s.result(), err
		}
		return Continue, nil
	}

	if err := s.feed(seg); err != nil {
		return s.result(), err
	}

	if seg.FIN || seg.RST {
		log.Infof("%s: FIN / RST, ending session", s.flow.String())
		s.terminate(types.EventTerminated, "")
		return s.result(), nil
	}
	return Continue, nil
}

// feed routes the payload of seg to its direction and logs the messages
// that come out.
func (s *Session) feed(seg *types.Segment) error {
	var direction *DirectionState
	switch {
	case seg.Flow.SrcPort() == s.localPort:
		direction = s.outbound
	case seg.Flow.DstPort() == s.localPort:
		direction = s.inbound
		if seg.SYN && seg.ACK {
			if s.inbound.reassembler.Started() {
				log.Debugf("%s: ignoring SYN-ACK after inbound data", s.flow.String())
				return nil
			}
			s.inbound.reassembler.SetNextSeq(seg.Seq.Add(1))
			return nil
		}
	default:
		return nil
	}
	if len(seg.Payload) == 0 {
		return nil
	}

	messages, err := direction.Receive(seg.Seq, seg.Payload, seg.Timestamp)
	if err != nil {
		s.desync = true
		s.terminate(types.EventDesync, err.Error())
		return err
	}
	for _, message := range messages {
		message.Index = len(s.messages)
		s.messages = append(s.messages, message)
		s.state = StateActive
	}
	return nil
}

// handshake takes the connection identity from the client's SYN.
func (s *Session) handshake(seg *types.Segment) error {
	if s.state != StateCreated || len(s.messages) > 0 {
		log.Debugf("%s: ignoring SYN on an established session", s.flow.String())
		return nil
	}
	if !seg.Flow.Valid() {
		s.terminate(types.EventUnidentified, seg.Flow.String())
		return ErrUnidentifiedConnection
	}
	s.flow = seg.Flow
	s.localPort = seg.Flow.SrcPort()
	s.remotePort = seg.Flow.DstPort()
	s.localEndpoint = seg.Flow.SrcEndpoint()
	s.remoteEndpoint = seg.Flow.DstEndpoint()
	s.created = seg.Timestamp
	s.outbound.SetFlow(seg.Flow)
	s.inbound.SetFlow(seg.Flow.Reverse())
	s.outbound.reassembler.SetNextSeq(seg.Seq.Add(1))
	if factory := s.options.StreamSinkFactory; factory != nil {
		reverse := seg.Flow.Reverse()
		s.outbound.SetStreamSink(factory.Build(&s.flow, true))
		s.inbound.SetStreamSink(factory.Build(&reverse, false))
	}
	log.Infof("[CONNECTION] From %s to %s", s.localEndpoint, s.remoteEndpoint)
	s.event(types.EventCreated, "")
	return nil
}

func (s *Session) terminal() bool {
	return s.state == StateTerminated || s.state == StateClosedIdle
}

func (s *Session) result() Results {
	switch s.state {
	case StateTerminated:
		return Terminated
	case StateClosedIdle:
		return CloseMe
	}
	return Continue
}

// terminate moves the session into its final state and frees its buffers.
func (s *Session) terminate(eventType, detail string) {
	if s.terminal() {
		return
	}
	if len(s.messages) == 0 {
		s.state = StateClosedIdle
	} else {
		s.state = StateTerminated
	}
	for _, direction := range []*DirectionState{s.outbound, s.inbound} {
		if residue := direction.Close(); len(residue) > 0 {
			log.Debugf("%s: dropping %d byte %s residue", s.flow.String(), len(residue), direction.Direction)
			s.event(types.EventResidueDrop, fmt.Sprintf("%s %d bytes", direction.Direction, len(residue)))
		}
	}
	if s.packetLogger != nil {
		s.packetLogger.Stop()
		if len(s.messages) == 0 {
			s.packetLogger.Remove()
		} else {
			s.packetLogger.Archive()
		}
		s.packetLogger = nil
	}
	s.event(eventType, detail)
}

// Close ends the session as if the connection had been torn down.
func (s *Session) Close() {
	s.Lock()
	defer s.Unlock()
	if len(s.messages) == 0 {
		s.terminate(types.EventClosedIdle, "")
	} else {
		s.terminate(types.EventTerminated, "closed")
	}
}

// MarkDesynchronized ends the session because its decrypted output can no
// longer be trusted.
func (s *Session) MarkDesynchronized(reason string) {
	s.Lock()
	defer s.Unlock()
	s.desync = true
	s.terminate(types.EventDesync, reason)
}

func (s *Session) event(eventType, detail string) {
	if s.options.Logger == nil {
		return
	}
	flow := s.flow
	s.options.Logger.Log(&types.Event{
		Type:         eventType,
		Flow:         &flow,
		Time:         time.Now(),
		MessageCount: len(s.messages),
		Locale:       s.locale,
		Build:        s.build,
		Detail:       detail,
	})
}

// Matches reports whether seg belongs to this session.
func (s *Session) Matches(seg *types.Segment) bool {
	s.Lock()
	defer s.Unlock()
	if s.terminal() {
		return false
	}
	remote := s.remotePort
	if s.options.ProxyPort > 0 {
		remote = s.options.ProxyPort
	}
	src, dst := seg.Flow.SrcPort(), seg.Flow.DstPort()
	return (src == s.localPort && dst == remote) || (src == remote && dst == s.localPort)
}

// CloseMe reports whether the session has been waiting for its first
// message for too long.
func (s *Session) CloseMe(now time.Time) bool {
	s.Lock()
	defer s.Unlock()
	return !s.cleared && len(s.messages) == 0 && now.Sub(s.created) >= s.options.IdleCloseAfter
}

// SetGameInfo replaces the session identity, as for a session fed by a
// local proxy.
func (s *Session) SetGameInfo(build uint16, patchLocation string, locale byte, remoteIP string, remotePort uint16) error {
	s.Lock()
	defer s.Unlock()
	if len(s.messages) > 0 {
		return ErrMetadataFrozen
	}
	s.build = build
	s.patchLocation = patchLocation
	s.locale = locale
	s.remoteEndpoint = remoteIP
	s.remotePort = remotePort
	s.localEndpoint = "127.0.0.1"
	s.localPort = 10000
	return nil
}

func (s *Session) State() SessionState {
	s.Lock()
	defer s.Unlock()
	return s.state
}

func (s *Session) Desynchronized() bool {
	s.Lock()
	defer s.Unlock()
	return s.desync
}

func (s *Session) Saved() bool {
	s.Lock()
	defer s.Unlock()
	return s.saved
}

func (s *Session) ReadOnly() bool {
	return s.readOnly
}

func (s *Session) Flow() types.TcpIpFlow {
	s.Lock()
	defer s.Unlock()
	return s.flow
}

func (s *Session) Created() time.Time {
	s.Lock()
	defer s.Unlock()
	return s.created
}

// LastSeen returns the timestamp of the newest segment received.
func (s *Session) LastSeen() time.Time {
	s.Lock()
	defer s.Unlock()
	return s.lastSeen
}

func (s *Session) Locale() byte {
	s.Lock()
	defer s.Unlock()
	return s.locale
}

func (s *Session) LocalPort() uint16 {
	s.Lock()
	defer s.Unlock()
	return s.localPort
}

func (s *Session) RemotePort() uint16 {
	s.Lock()
	defer s.Unlock()
	return s.remotePort
}

func (s *Session) MessageCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.messages)
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []types.Message {
	s.Lock()
	defer s.Unlock()
	return append([]types.Message(nil), s.messages...)
}

// Opcodes returns every opcode seen, ordered by opcode.
func (s *Session) Opcodes() []OpcodeKey {
	s.Lock()
	defer s.Unlock()
	seen := map[OpcodeKey]bool{}
	keys := []OpcodeKey{}
	for _, message := range s.messages {
		key := OpcodeKey{Outbound: message.Direction.IsOutbound(), Opcode: message.Opcode}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].Opcode < keys[j].Opcode
	})
	return keys
}

// Refresh resolves names against resolver and returns the messages that
// pass filter.  Names are never cached on the messages themselves.
func (s *Session) Refresh(resolver types.Resolver, filter ViewFilter) []ViewItem {
	if resolver == nil {
		resolver = types.NopResolver{}
	}
	s.Lock()
	defer s.Unlock()
	items := []ViewItem{}
	for _, message := range s.messages {
		outbound := message.Direction.IsOutbound()
		if outbound && !filter.Outbound || !outbound && !filter.Inbound {
			continue
		}
		item := ViewItem{Message: message}
		if definition, ok := resolver.ResolveName(outbound, message.Opcode); ok {
			item.Name = definition.Name
			item.Ignored = definition.Ignore
		}
		if item.Ignored && !filter.Ignored {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (s *Session) reindex() {
	for i := range s.messages {
		s.messages[i].Index = i
	}
}

// RemoveMessage drops message i from the log.
func (s *Session) RemoveMessage(i int) error {
	s.Lock()
	defer s.Unlock()
	if i < 0 || i >= len(s.messages) {
		return fmt.Errorf("message %d: %w", i, ErrNoSuchMessage)
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.reindex()
	return nil
}

// RemoveBefore drops every message before message i.
func (s *Session) RemoveBefore(i int) error {
	s.Lock()
	defer s.Unlock()
	if i < 0 || i >= len(s.messages) {
		return fmt.Errorf("message %d: %w", i, ErrNoSuchMessage)
	}
	s.messages = append([]types.Message(nil), s.messages[i:]...)
	s.reindex()
	return nil
}

// RemoveAfter drops every message after message i.
func (s *Session) RemoveAfter(i int) error {
	s.Lock()
	defer s.Unlock()
	if i < 0 || i >= len(s.messages) {
		return fmt.Errorf("message %d: %w", i, ErrNoSuchMessage)
	}
	s.messages = s.messages[:i+1]
	return nil
}

// ClearMessages empties the log.  A cleared session is never reported by
// CloseMe.
func (s *Session) ClearMessages() {
	s.Lock()
	defer s.Unlock()
	s.cleared = true
	s.messages = nil
}

// KMSInfo is the build information Korean clients encode in the patch
// location.
type KMSInfo struct {
	Test        bool
	RealVersion uint16
	Subversion  int
	ExtraFlag   int
}

// SessionInfo summarizes the identity of a session.
type SessionInfo struct {
	Build          uint16
	PatchLocation  string
	Locale         byte
	LocalEndpoint  string
	RemoteEndpoint string
	ProxyEndpoint  string
	KMS            *KMSInfo
}

func (i SessionInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Version: %d\nPatch location: %s\nLocale: %d\n", i.Build, i.PatchLocation, i.Locale)
	fmt.Fprintf(&sb, "Connection info:\n%s <-> %s", i.LocalEndpoint, i.RemoteEndpoint)
	if i.ProxyEndpoint != "???" && i.ProxyEndpoint != "" {
		fmt.Fprintf(&sb, "\nProxy: %s", i.ProxyEndpoint)
	}
	if i.KMS != nil {
		server := "MapleStory Korea"
		if i.KMS.Test {
			server += " Test"
		}
		fmt.Fprintf(&sb, "\nRecording session of a %s server.\nReal Version: %d\nSubversion: %d\nExtra flag: %d",
			server, i.KMS.RealVersion, i.KMS.Subversion, i.KMS.ExtraFlag)
	}
	return sb.String()
}

func (s *Session) Info() SessionInfo {
	s.Lock()
	defer s.Unlock()
	info := SessionInfo{
		Build:          s.build,
		PatchLocation:  s.patchLocation,
		Locale:         s.locale,
		LocalEndpoint:  s.localEndpoint,
		RemoteEndpoint: s.remoteEndpoint,
		ProxyEndpoint:  s.proxyEndpoint,
	}
	if s.locale == 1 || s.locale == 2 {
		if v, err := strconv.ParseInt(s.patchLocation, 10, 32); err == nil {
			info.KMS = &KMSInfo{
				Test:        s.locale == 2,
				RealVersion: uint16(v & 0x7FFF),
				ExtraFlag:   int((v >> 15) & 1),
				Subversion:  int((v >> 16) & 0xFF),
			}
		}
	}
	return info
}

// Header returns the capture header describing this session.
func (s *Session) Header() capfile.Header {
	s.Lock()
	defer s.Unlock()
	return s.header()
}

func (s *Session) header() capfile.Header {
	return capfile.Header{
		Version:        capfile.CurrentVersion,
		LocalEndpoint:  s.localEndpoint,
		LocalPort:      s.localPort,
		RemoteEndpoint: s.remoteEndpoint,
		RemotePort:     s.remotePort,
		Locale:         s.locale,
		Build:          s.build,
		PatchLocation:  s.patchLocation,
	}
}

// Records returns the message log in capture form.
func (s *Session) Records() []capfile.Record {
	s.Lock()
	defer s.Unlock()
	return s.records()
}

func (s *Session) records() []capfile.Record {
	records := make([]capfile.Record, 0, len(s.messages))
	for _, message := range s.messages {
		records = append(records, capfile.Record{
			Timestamp:          message.Timestamp,
			Outbound:           message.Direction.IsOutbound(),
			Opcode:             message.Opcode,
			Payload:            message.Payload,
			PreDecodePosition:  message.PreDecodePosition,
			PostDecodePosition: message.PostDecodePosition,
		})
	}
	return records
}

// WriteTo encodes the session as a current version capture.
func (s *Session) WriteTo(w io.Writer) error {
	s.Lock()
	defer s.Unlock()
	return capfile.WriteAll(w, s.header(), s.records())
}

// Save writes the session to path.  The file is written next to path
// and renamed into place, so readers never see a partial capture.
func (s *Session) Save(path string) error {
	s.Lock()
	defer s.Unlock()

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := capfile.WriteAll(tmp, s.header(), s.records()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", path, err)
	}
	s.saved = true
	s.event(types.EventSaved, path)
	return nil
}

// SessionFromCapture builds a read-only session from decoded capture data.
func SessionFromCapture(header capfile.Header, records []capfile.Record) *Session {
	// never reassembles, so one page is enough
	s := NewSession(SessionOptions{Pager: NewPager(1), Locale: header.Locale, Build: header.Build})
	s.readOnly = true
	s.saved = true
	s.state = StateTerminated
	s.localEndpoint = header.LocalEndpoint
	s.localPort = header.LocalPort
	s.remoteEndpoint = header.RemoteEndpoint
	s.remotePort = header.RemotePort
	s.locale = header.Locale
	s.patchLocation = header.PatchLocation
	for i, record := range records {
		s.messages = append(s.messages, types.Message{
			Timestamp:          record.Timestamp,
			Direction:          types.DirectionOf(record.Outbound),
			Opcode:             record.Opcode,
			Payload:            record.Payload,
			Index:              i,
			PreDecodePosition:  record.PreDecodePosition,
			PostDecodePosition: record.PostDecodePosition,
		})
	}
	if len(records) > 0 {
		s.created = records[0].Timestamp
		s.lastSeen = records[len(records)-1].Timestamp
	}
	return s
}

// OpenSession loads a capture file as a read-only session.
func OpenSession(path string, options capfile.ReaderOptions) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header, records, err := capfile.ReadAll(f, options)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Infof("loaded file: %s", path)
	return SessionFromCapture(header, records), nil
}
