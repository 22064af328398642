package ncshark

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncshark/ncshark/types"
)

type testSegment struct {
	seq     types.Sequence
	payload []byte
}

func clientFlow() types.TcpIpFlow {
	return types.NewTcpIpFlow(net.IPv4(10, 0, 0, 2), 50000, net.IPv4(203, 0, 113, 7), 33004)
}

func newTestReassembler(nextSeq types.Sequence, options ReassemblerOptions) (*Reassembler, *Pager) {
	pager := NewPager(0)
	r := NewReassembler(clientFlow(), pager, options)
	if nextSeq != types.InvalidSequence {
		r.SetNextSeq(nextSeq)
	}
	return r, pager
}

// feed delivers segments in order and returns the decrypted chunks.
func feed(t *testing.T, r *Reassembler, segments []testSegment) [][]byte {
	chunks := [][]byte{}
	for _, s := range segments {
		out, err := r.Receive(s.seq, s.payload, time.Now())
		require.NoError(t, err)
		for _, chunk := range out {
			chunks = append(chunks, chunk.Bytes)
		}
	}
	return chunks
}

func pattern(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestRetransmittedGapFillScenario(t *testing.T) {
	seg90 := testSegment{90, pattern(0, 10)}
	seg100 := testSegment{100, pattern(10, 10)}

	inOrder, _ := newTestReassembler(90, ReassemblerOptions{})
	expected := bytes.Join(feed(t, inOrder, []testSegment{seg90, seg100}), nil)

	r, pager := newTestReassembler(90, ReassemblerOptions{})
	chunks := feed(t, r, []testSegment{seg100, seg90})
	assert.Equal(t, types.Sequence(110), r.NextSeq())

	out, err := r.Receive(seg90.seq, seg90.payload, time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, types.Sequence(110), r.NextSeq())

	assert.Len(t, expected, 20)
	assert.Equal(t, expected, bytes.Join(chunks, nil))
	assert.Equal(t, xorKeystream(pattern(0, 20)), expected)
	assert.Equal(t, 0, pager.Used())
	assert.Equal(t, 0, r.PendingSegments())
}

func TestDuplicateDelivery(t *testing.T) {
	segments := []testSegment{{0, pattern(0, 8)}, {8, pattern(8, 8)}}

	r, _ := newTestReassembler(0, ReassemblerOptions{})
	chunks := feed(t, r, []testSegment{segments[0], segments[0], segments[1], segments[1]})
	assert.Len(t, chunks, 2)
	assert.Equal(t, xorKeystream(pattern(0, 16)), bytes.Join(chunks, nil))

	// duplicates while still out of order
	r, pager := newTestReassembler(0, ReassemblerOptions{})
	chunks = feed(t, r, []testSegment{segments[1], segments[1], segments[0]})
	assert.Len(t, chunks, 2)
	assert.Equal(t, xorKeystream(pattern(0, 16)), bytes.Join(chunks, nil))
	assert.Equal(t, 0, pager.Used())
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	result := [][]int{}
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append([]int{}, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			result = append(result, q)
		}
	}
	return result
}

func TestReorderingInvariance(t *testing.T) {
	segments := []testSegment{
		{1000, pattern(0, 5)},
		{1005, pattern(5, 3)},
		{1008, pattern(8, 40)},
		{1048, pattern(48, 2)},
	}
	baseline, _ := newTestReassembler(1000, ReassemblerOptions{})
	expected := feed(t, baseline, segments)
	require.Len(t, expected, len(segments))

	for _, order := range permutations(len(segments)) {
		shuffled := make([]testSegment, len(order))
		for i, j := range order {
			shuffled[i] = segments[j]
		}
		r, pager := newTestReassembler(1000, ReassemblerOptions{})
		assert.Equal(t, expected, feed(t, r, shuffled), "order %v", order)
		assert.Equal(t, 0, pager.Used(), "order %v", order)
	}
}

func TestReorderingInvarianceOfMessages(t *testing.T) {
	segments := []testSegment{
		{1, pattern(0, 6)},
		{7, pattern(6, 2)},
		{9, pattern(8, 9)},
	}
	frame := func(order []int) []types.Message {
		state := NewDirectionState(types.Inbound, NewPager(0), ReassemblerOptions{})
		state.reassembler.SetNextSeq(1)
		messages := []types.Message{}
		for _, i := range order {
			out, err := state.Receive(segments[i].seq, segments[i].payload, time.Unix(0, 0))
			require.NoError(t, err)
			messages = append(messages, out...)
		}
		return messages
	}
	expected := frame([]int{0, 1, 2})
	require.Len(t, expected, 2)
	for _, order := range permutations(len(segments)) {
		assert.Equal(t, expected, frame(order), "order %v", order)
	}
}

func TestOverlapTrimming(t *testing.T) {
	r, _ := newTestReassembler(0, ReassemblerOptions{})
	out, err := r.Receive(0, pattern(0, 10), time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	first := append([]byte(nil), out[0].Bytes...)

	out, err = r.Receive(5, pattern(5, 10), time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 5, out[0].Trimmed)
	assert.Equal(t, types.Sequence(10), out[0].Seq)

	assert.Equal(t, xorKeystream(pattern(0, 15)), append(first, out[0].Bytes...))
	assert.Equal(t, types.Sequence(15), r.NextSeq())
}

func TestOverlappingPendingSegments(t *testing.T) {
	r, pager := newTestReassembler(0, ReassemblerOptions{})
	chunks := feed(t, r, []testSegment{
		{10, pattern(10, 10)},
		{15, pattern(15, 10)},
		{12, pattern(12, 3)},
		{0, pattern(0, 10)},
	})
	assert.Equal(t, xorKeystream(pattern(0, 25)), bytes.Join(chunks, nil))
	assert.Equal(t, types.Sequence(25), r.NextSeq())
	assert.Equal(t, 0, pager.Used())
}

func TestLargeSegmentSpansPages(t *testing.T) {
	r, pager := newTestReassembler(0, ReassemblerOptions{})
	big := pattern(0, 3*pageBytes+17)

	out, err := r.Receive(10, big[10:], time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 4, pager.Used())
	assert.Equal(t, len(big)-10, r.PendingBytes())

	chunks := feed(t, r, []testSegment{{0, big[:10]}})
	require.Len(t, chunks, 2)
	assert.Equal(t, xorKeystream(big), bytes.Join(chunks, nil))
	assert.Equal(t, 0, pager.Used())
}

func TestSegmentBetweenPagesOfBufferedSegment(t *testing.T) {
	r, pager := newTestReassembler(0, ReassemblerOptions{})
	big := pattern(0, 2*pageBytes+100)
	chunks := feed(t, r, []testSegment{
		{100, big[100:]},
		{pageBytes - 500, big[pageBytes-500 : pageBytes-490]},
		{0, big[:100]},
	})
	assert.Equal(t, xorKeystream(big), bytes.Join(chunks, nil))
	assert.Equal(t, 0, pager.Used())
}

func TestAdoptsFirstSequence(t *testing.T) {
	r, _ := newTestReassembler(types.InvalidSequence, ReassemblerOptions{})
	chunks := feed(t, r, []testSegment{{5000, pattern(0, 4)}, {5004, pattern(4, 4)}})
	assert.Equal(t, xorKeystream(pattern(0, 8)), bytes.Join(chunks, nil))
	assert.Equal(t, types.Sequence(5008), r.NextSeq())
}

func TestSequenceWrap(t *testing.T) {
	r, _ := newTestReassembler(0xFFFFFFF8, ReassemblerOptions{})
	chunks := feed(t, r, []testSegment{{8, pattern(16, 8)}, {0xFFFFFFF8, pattern(0, 16)}})
	assert.Equal(t, xorKeystream(pattern(0, 24)), bytes.Join(chunks, nil))
	assert.Equal(t, types.Sequence(16), r.NextSeq())
}

func TestPendingPageLimit(t *testing.T) {
	r, pager := newTestReassembler(0, ReassemblerOptions{MaxPendingPages: 2})
	feed(t, r, []testSegment{{10, pattern(0, 1)}, {20, pattern(0, 1)}})

	_, err := r.Receive(30, pattern(0, 1), time.Now())
	assert.ErrorIs(t, err, ErrPendingOverflow)
	assert.ErrorIs(t, r.Err(), ErrPendingOverflow)
	assert.Equal(t, 0, pager.Used())

	_, err = r.Receive(0, pattern(0, 10), time.Now())
	assert.ErrorIs(t, err, ErrPendingOverflow)
}

func TestPendingByteLimit(t *testing.T) {
	r, _ := newTestReassembler(0, ReassemblerOptions{MaxPendingBytes: 100})
	feed(t, r, []testSegment{{10, pattern(0, 60)}})
	_, err := r.Receive(200, pattern(0, 41), time.Now())
	assert.ErrorIs(t, err, ErrPendingOverflow)
}

func TestGlobalPageLimit(t *testing.T) {
	pager := NewPager(2)
	a := NewReassembler(clientFlow(), pager, ReassemblerOptions{})
	a.SetNextSeq(0)
	b := NewReassembler(clientFlow(), pager, ReassemblerOptions{})
	b.SetNextSeq(0)

	_, err := a.Receive(10, pattern(0, 1), time.Now())
	require.NoError(t, err)
	_, err = b.Receive(10, pattern(0, 1), time.Now())
	require.NoError(t, err)
	_, err = b.Receive(20, pattern(0, 1), time.Now())
	assert.ErrorIs(t, err, ErrPendingOverflow)
	assert.NoError(t, a.Err())
	assert.Equal(t, 1, pager.Used())
}

func TestEmptyPayloadIgnored(t *testing.T) {
	r, _ := newTestReassembler(types.InvalidSequence, ReassemblerOptions{})
	out, err := r.Receive(77, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, types.InvalidSequence, r.NextSeq())
}
