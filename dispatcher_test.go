package ncshark

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

type sessionCollector struct {
	sync.Mutex
	sessions []*Session
}

func (c *sessionCollector) SessionClosed(s *Session) {
	c.Lock()
	defer c.Unlock()
	c.sessions = append(c.sessions, s)
}

func (c *sessionCollector) closed() []*Session {
	c.Lock()
	defer c.Unlock()
	return append([]*Session(nil), c.sessions...)
}

type mockPacketLoggerFactory struct {
	built []*mockPacketLogger
}

func (f *mockPacketLoggerFactory) Build(flow *types.TcpIpFlow) types.PacketLogger {
	logger := &mockPacketLogger{}
	f.built = append(f.built, logger)
	return logger
}

func synAck(flow types.TcpIpFlow, seq types.Sequence) *types.Segment {
	return &types.Segment{Timestamp: t0, Flow: flow, Seq: seq, SYN: true, ACK: true}
}

func TestDispatcherSessionToSink(t *testing.T) {
	collector := &sessionCollector{}
	d := NewDispatcher(DispatcherOptions{LowPort: 33000, HighPort: 33010}, collector, nil)
	client := clientFlow()
	server := client.Reverse()

	d.dispatch(synSegment(client, 999))
	d.dispatch(synAck(server, 4999))
	d.dispatch(dataSegment(client, 1000, []byte{0, 0, 0x10, 0x00, 1}))
	require.Len(t, d.Sessions(), 1)

	d.dispatch(finSegment(client, 1005))
	assert.Len(t, d.Sessions(), 0)
	closed := collector.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, 1, closed[0].MessageCount())
}

func TestDispatcherPortRange(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{LowPort: 40000, HighPort: 40010}, nil, nil)
	d.dispatch(synSegment(clientFlow(), 999))
	assert.Len(t, d.Sessions(), 0)

	d = NewDispatcher(DispatcherOptions{}, nil, nil)
	d.dispatch(synSegment(clientFlow(), 999))
	assert.Len(t, d.Sessions(), 1)
}

func TestDispatcherIgnoresMidstream(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{}, nil, nil)
	d.dispatch(dataSegment(clientFlow(), 1000, []byte{0, 0, 1, 0}))
	assert.Len(t, d.Sessions(), 0)
}

func TestDispatcherMaxConcurrentSessions(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{MaxConcurrentSessions: 1}, nil, nil)
	d.dispatch(synSegment(clientFlow(), 999))
	other := types.NewTcpIpFlow(net.IPv4(10, 0, 0, 3), 50001, net.IPv4(203, 0, 113, 7), 33004)
	d.dispatch(synSegment(other, 999))
	assert.Len(t, d.Sessions(), 1)
}

func TestDispatcherEmptySessionNotSunk(t *testing.T) {
	collector := &sessionCollector{}
	factory := &mockPacketLoggerFactory{}
	d := NewDispatcher(DispatcherOptions{LogPackets: true}, collector, factory)
	client := clientFlow()

	d.dispatch(synSegment(client, 999))
	d.dispatch(finSegment(client, 1000))
	assert.Len(t, d.Sessions(), 0)
	assert.Len(t, collector.closed(), 0)
	require.Len(t, factory.built, 1)
	assert.Equal(t, 1, factory.built[0].started)
	assert.Equal(t, 1, factory.built[0].removed)
	assert.Equal(t, 1, factory.built[0].stopped)
}

func TestDispatcherSweep(t *testing.T) {
	collector := &sessionCollector{}
	d := NewDispatcher(DispatcherOptions{IdleCloseAfter: 5 * time.Second, TcpIdleTimeout: time.Minute}, collector, nil)
	client := clientFlow()
	d.dispatch(synSegment(client, 999))

	assert.Equal(t, 0, d.Sweep(t0.Add(time.Second)))
	assert.Equal(t, 1, d.Sweep(t0.Add(6*time.Second)))
	assert.Len(t, collector.closed(), 0)

	other := types.NewTcpIpFlow(net.IPv4(10, 0, 0, 3), 50001, net.IPv4(203, 0, 113, 7), 33004)
	d.dispatch(synSegment(other, 999))
	d.dispatch(dataSegment(other, 1000, []byte{0, 0, 5, 0}))
	assert.Equal(t, 0, d.Sweep(t0.Add(30*time.Second)))
	assert.Equal(t, 1, d.Sweep(t0.Add(2*time.Minute)))
	assert.Len(t, collector.closed(), 1)
}

func TestDispatcherRun(t *testing.T) {
	collector := &sessionCollector{}
	d := NewDispatcher(DispatcherOptions{CaptureClock: true}, collector, nil)
	client := clientFlow()
	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	observed := d.GetObservedSessionsChan(1)
	d.ReceiveSegment(synSegment(client, 999))
	<-observed
	d.ReceiveSegment(dataSegment(client, 1000, []byte{0, 0, 1, 0, 42}))
	d.CloseInput()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	closed := collector.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, []byte{42}, closed[0].Messages()[0].Payload)
}

func TestDispatcherReconnectOnSamePorts(t *testing.T) {
	collector := &sessionCollector{}
	d := NewDispatcher(DispatcherOptions{}, collector, nil)
	client := clientFlow()
	server := client.Reverse()

	d.dispatch(synSegment(client, 999))
	d.dispatch(synAck(server, 4999))
	d.dispatch(dataSegment(client, 1000, []byte{0, 0, 0x10, 0x00, 1}))
	require.Len(t, d.Sessions(), 1)

	// no FIN or RST was seen for the first connection
	d.dispatch(synSegment(client, 69999))
	d.dispatch(synAck(server, 89999))
	d.dispatch(dataSegment(client, 70000, []byte{0, 0, 0x22, 0x00, 7}))
	d.dispatch(dataSegment(server, 90000, []byte{0, 0, 0x33, 0x00}))

	closed := collector.closed()
	require.Len(t, closed, 1)
	require.Len(t, closed[0].Messages(), 1)
	assert.Equal(t, uint16(0x0010), closed[0].Messages()[0].Opcode)

	sessions := d.Sessions()
	require.Len(t, sessions, 1)
	messages := sessions[0].Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, types.Outbound, messages[0].Direction)
	assert.Equal(t, uint16(0x0022), messages[0].Opcode)
	assert.Equal(t, []byte{7}, messages[0].Payload)
	assert.Equal(t, types.Inbound, messages[1].Direction)
	assert.Equal(t, uint16(0x0033), messages[1].Opcode)
}

func TestDispatcherClock(t *testing.T) {
	live := NewDispatcher(DispatcherOptions{}, nil, nil)
	live.dispatch(synSegment(clientFlow(), 999))
	assert.True(t, live.now().After(t0))
	// the wire went quiet long ago, the empty session still closes
	assert.Equal(t, 1, live.Sweep(live.now()))

	replay := NewDispatcher(DispatcherOptions{CaptureClock: true}, nil, nil)
	replay.dispatch(synSegment(clientFlow(), 999))
	assert.Equal(t, t0, replay.now())
	assert.Equal(t, 0, replay.Sweep(replay.now()))
	assert.Len(t, replay.Sessions(), 1)
}
