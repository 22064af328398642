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
	"context"
	"time"

	"github.com/ncshark/ncshark/types"
)

// DispatcherOptions are user set parameters for specifying the
// details of how sessions are tracked.
type DispatcherOptions struct {
	// LowPort and HighPort bound the server ports sessions are opened
	// for.  Both zero means any port.
	LowPort  uint16
	HighPort uint16
	// ProxyPort is forwarded to every session, see SessionOptions.
	ProxyPort uint16

	IdleCloseAfter        time.Duration
	TcpIdleTimeout        time.Duration
	SweepInterval         time.Duration
	MaxConcurrentSessions int
	Reassembler           ReassemblerOptions
	MaxPendingPagesTotal  int
	Locale                byte
	Build                 uint16
	LogPackets            bool
	Logger                types.Logger

	// CaptureClock sweeps on packet timestamps alone, for replaying
	// capture files.  Otherwise wall time keeps the sweep moving while
	// the wire is quiet.
	CaptureClock bool
}

// SessionSink receives every session that ends with at least one message.
type SessionSink interface {
	SessionClosed(*Session)
}

// SegmentReceiver is what the Sniffer feeds.
type SegmentReceiver interface {
	ReceiveSegment(*types.Segment)
	// CloseInput tells the receiver no more segments will arrive.
	CloseInput()
}

// Dispatcher owns the session pool.  All segments pass through its single
// goroutine, so sessions see their segments in capture order.
type Dispatcher struct {
	options             DispatcherOptions
	pool                *SessionPool
	pager               *Pager
	sink                SessionSink
	PacketLoggerFactory types.PacketLoggerFactory
	StreamSinkFactory   types.StreamSinkFactory
	dispatchSegmentChan chan *types.Segment
	stoppedChan         chan struct{}
	observeSessionCount int
	observeSessionChan  chan bool
	clock               time.Time
}

const defaultSweepInterval = time.Second

// NewDispatcher creates a Dispatcher handing finished sessions to sink.
// packetLoggerFactory may be nil.
func NewDispatcher(options DispatcherOptions, sink SessionSink, packetLoggerFactory types.PacketLoggerFactory) *Dispatcher {
	if options.SweepInterval == 0 {
		options.SweepInterval = defaultSweepInterval
	}
	return &Dispatcher{
		options:             options,
		pool:                NewSessionPool(),
		pager:               NewPager(options.MaxPendingPagesTotal),
		sink:                sink,
		PacketLoggerFactory: packetLoggerFactory,
		dispatchSegmentChan: make(chan *types.Segment),
		stoppedChan:         make(chan struct{}),
		observeSessionChan:  make(chan bool, 1),
	}
}

// GetObservedSessionsChan returns a channel that receives once count
// sessions are open at the same time.
func (i *Dispatcher) GetObservedSessionsChan(count int) chan bool {
	i.observeSessionCount = count
	return i.observeSessionChan
}

func (i *Dispatcher) Sessions() []*Session {
	return i.pool.Sessions()
}

// ReceiveSegment hands a segment to the dispatch loop.  Segments arriving
// after Run returned are dropped.
func (i *Dispatcher) ReceiveSegment(s *types.Segment) {
	select {
	case i.dispatchSegmentChan <- s:
	case <-i.stoppedChan:
	}
}

func (i *Dispatcher) CloseInput() {
	close(i.dispatchSegmentChan)
}

// Run dispatches segments until ctx is done or the input is closed, then
// closes every remaining session.
func (i *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.options.SweepInterval)
	defer ticker.Stop()
	defer close(i.stoppedChan)
	defer func() {
		closed := i.CloseAllSessions()
		log.Infof("%d session(s) closed.", closed)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if closed := i.Sweep(i.now()); closed != 0 {
				log.Infof("timeout closed %d sessions", closed)
			}
		case segment, ok := <-i.dispatchSegmentChan:
			if !ok {
				return nil
			}
			i.dispatch(segment)
		}
	}
}

// now is the time sessions are swept at: the newest packet timestamp
// when replaying a capture, so it expires sessions the way the live
// capture would have, and never earlier than wall time otherwise.
func (i *Dispatcher) now() time.Time {
	if i.options.CaptureClock && !i.clock.IsZero() {
		return i.clock
	}
	wall := time.Now()
	if i.clock.After(wall) {
		return i.clock
	}
	return wall
}

// Sweep closes sessions that idled out at the given time.
func (i *Dispatcher) Sweep(now time.Time) int {
	var cutoff time.Time
	if i.options.TcpIdleTimeout > 0 {
		cutoff = now.Add(-i.options.TcpIdleTimeout)
	}
	removed := i.pool.RemoveOlderThan(cutoff, now)
	for _, session := range removed {
		i.finished(session)
	}
	return len(removed)
}

// CloseAllSessions closes all sessions in the pool.
func (i *Dispatcher) CloseAllSessions() int {
	removed := i.pool.RemoveAll()
	for _, session := range removed {
		i.finished(session)
	}
	return len(removed)
}

func (i *Dispatcher) finished(session *Session) {
	if session.MessageCount() == 0 {
		log.Debugf("discarding empty session %s", session.Flow().String())
		return
	}
	if i.sink != nil {
		i.sink.SessionClosed(session)
	}
}

func (i *Dispatcher) inPortRange(port uint16) bool {
	if i.options.LowPort == 0 && i.options.HighPort == 0 {
		return true
	}
	return port >= i.options.LowPort && port <= i.options.HighPort
}

func (i *Dispatcher) setupNewSession(segment *types.Segment) *Session {
	session := NewSession(SessionOptions{
		Pager:             i.pager,
		Reassembler:       i.options.Reassembler,
		IdleCloseAfter:    i.options.IdleCloseAfter,
		ProxyPort:         i.options.ProxyPort,
		Locale:            i.options.Locale,
		Build:             i.options.Build,
		Logger:            i.options.Logger,
		StreamSinkFactory: i.StreamSinkFactory,
	})
	if i.options.LogPackets && i.PacketLoggerFactory != nil {
		packetLogger := i.PacketLoggerFactory.Build(&segment.Flow)
		packetLogger.Start()
		session.SetPacketLogger(packetLogger)
	}
	i.pool.Put(segment.Flow.ConnectionHash(), session)
	if i.observeSessionCount != 0 && i.observeSessionCount == i.pool.Len() {
		select {
		case i.observeSessionChan <- true:
		default:
		}
	}
	return session
}

func (i *Dispatcher) dispatch(segment *types.Segment) {
	if segment.Timestamp.After(i.clock) {
		i.clock = segment.Timestamp
	}
	hash := segment.Flow.ConnectionHash()
	session, err := i.pool.Get(hash)
	if err != nil {
		if !segment.IsSynNoAck() || !i.inPortRange(segment.Flow.DstPort()) {
			return
		}
		if i.options.MaxConcurrentSessions != 0 && i.pool.Len() >= i.options.MaxConcurrentSessions {
			log.Warningf("ignoring %s: %d sessions open", segment.Flow.String(), i.pool.Len())
			return
		}
		session = i.setupNewSession(segment)
	} else if segment.IsSynNoAck() && session.State() != StateCreated {
		// the client reconnected from the same port; the old connection
		// ended without a FIN or RST we saw.
		log.Infof("%s: new SYN, closing previous session", segment.Flow.String())
		i.pool.Delete(hash)
		session.Close()
		i.finished(session)
		session = i.setupNewSession(segment)
	} else if !session.Matches(segment) && !segment.IsSynNoAck() {
		return
	}

	result, err := session.Receive(segment)
	if err != nil {
		log.Warningf("%s: %s", segment.Flow.String(), err)
	}
	if result != Continue {
		i.pool.Delete(hash)
		i.finished(session)
	}
}
