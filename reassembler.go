/*
 *    reassembler.go - in-order stream assembly and decryption of one
 *    direction of a game session.
 *
 *    The pending page list is refactored from Google's
 *    gopacket.tcpassembly.  Thanks to Graeme Connel for writing tcpassembly!
 */

// Copyright 2012 Google, Inc. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE_BSD file in the root of the source
// tree.

package ncshark

import (
	"errors"
	"fmt"
	"time"

	"github.com/ncshark/ncshark/types"
)

// ErrPendingOverflow is returned once a direction buffers more out-of-order
// data than its limits allow.  The direction is unusable afterwards.
var ErrPendingOverflow = errors.New("pending segment store overflow")

type ReassemblerOptions struct {
	// MaxPendingPages caps the pages one direction may hold while waiting
	// for a gap to close.  If <= 0, this is ignored.
	MaxPendingPages int
	// MaxPendingBytes caps the payload bytes one direction may hold while
	// waiting for a gap to close.  If <= 0, this is ignored.
	MaxPendingBytes int
}

// Reassembler turns the segments of one direction into an ordered,
// decrypted byte stream.  Every accepted segment produces exactly one
// types.Reassembly chunk, no matter in which order the segments arrived.
type Reassembler struct {
	ReassemblerOptions

	Flow        types.TcpIpFlow
	cipher      *KeystreamCipher
	pager       *Pager
	nextSeq     types.Sequence
	firstUse    bool
	first, last *page
	pageCount   int
	byteCount   int
	segments    int
	err         error
	ret         []types.Reassembly
}

// NewReassembler returns a Reassembler whose initial sequence is unknown
// until SetNextSeq or the first data segment.
func NewReassembler(flow types.TcpIpFlow, pager *Pager, options ReassemblerOptions) *Reassembler {
	return &Reassembler{
		ReassemblerOptions: options,
		Flow:               flow,
		cipher:             NewKeystreamCipher(),
		pager:              pager,
		nextSeq:            types.InvalidSequence,
		firstUse:           true,
	}
}

// SetNextSeq sets the sequence number of the first stream byte, as learned
// from the handshake.
func (r *Reassembler) SetNextSeq(seq types.Sequence) {
	r.nextSeq = seq
}

// Started reports whether any stream byte has been emitted.
func (r *Reassembler) Started() bool {
	return !r.firstUse
}

func (r *Reassembler) NextSeq() types.Sequence {
	return r.nextSeq
}

func (r *Reassembler) Cipher() *KeystreamCipher {
	return r.cipher
}

// PendingSegments returns the number of buffered out-of-order segments.
func (r *Reassembler) PendingSegments() int {
	return r.segments
}

// PendingBytes returns the number of buffered out-of-order payload bytes.
func (r *Reassembler) PendingBytes() int {
	return r.byteCount
}

// Err returns the error that failed this direction, if any.
func (r *Reassembler) Err() error {
	return r.err
}

// Receive accepts one segment and returns the chunks that became
// contiguous because of it, already decrypted.  The returned slice is only
// valid until the next call.
func (r *Reassembler) Receive(seq types.Sequence, payload []byte, seen time.Time) ([]types.Reassembly, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	r.ret = r.ret[:0]
	if r.nextSeq == types.InvalidSequence {
		log.Debugf("%s adopting initial sequence %d", r.Flow.String(), seq)
		r.nextSeq = seq
	}

	diff := r.nextSeq.Difference(seq)
	switch {
	case diff == 0:
		r.emit(payload, 0, false, seen)
		r.drain()
	case diff > 0:
		if err := r.insert(seq, payload, seen); err != nil {
			r.fail(err)
			return nil, err
		}
	default:
		overlap := -diff
		if len(payload) <= overlap {
			log.Debugf("%s discarding retransmitted segment %d len %d", r.Flow.String(), seq, len(payload))
			return nil, nil
		}
		r.emit(payload[overlap:], overlap, false, seen)
		r.drain()
	}
	return r.ret, nil
}

// Close hands every buffered page back to the pager.
func (r *Reassembler) Close() {
	if r.first != nil {
		r.pager.ReplaceAllFrom(r.first)
	}
	r.first = nil
	r.last = nil
	r.pageCount = 0
	r.byteCount = 0
	r.segments = 0
}

func (r *Reassembler) fail(err error) {
	log.Warningf("%s: %s", r.Flow.String(), err)
	r.err = err
	r.Close()
}

// emit decrypts a copy of bytes, which must start at nextSeq, and appends
// it to the return array.
func (r *Reassembler) emit(bytes []byte, trimmed int, drained bool, seen time.Time) {
	if r.firstUse {
		r.cipher.Reset()
		r.firstUse = false
	}
	out := make([]byte, len(bytes))
	copy(out, bytes)
	start := r.cipher.Position()
	r.cipher.Apply(out)
	r.ret = append(r.ret, types.Reassembly{
		Seq:            r.nextSeq,
		Bytes:          out,
		Trimmed:        trimmed,
		Drained:        drained,
		Seen:           seen,
		KeystreamStart: start,
		KeystreamEnd:   r.cipher.Position(),
	})
	r.nextSeq = r.nextSeq.Add(len(out))
}

// drain emits buffered segments for as long as the first one is no longer
// ahead of the stream.
func (r *Reassembler) drain() {
	for r.first != nil {
		diff := r.nextSeq.Difference(r.first.Seq)
		if diff > 0 {
			return
		}
		bytes, seen := r.popFirst()
		overlap := -diff
		if len(bytes) <= overlap {
			log.Debugf("%s dropping buffered segment already covered by the stream", r.Flow.String())
			continue
		}
		r.emit(bytes[overlap:], overlap, true, seen)
	}
}

// insert buffers an out-of-order segment.  A segment buffered earlier
// under the same sequence number is replaced.
func (r *Reassembler) insert(seq types.Sequence, payload []byte, seen time.Time) error {
	if head := r.find(seq); head != nil {
		r.release(head)
	}
	needed := (len(payload) + pageBytes - 1) / pageBytes
	if r.MaxPendingPages > 0 && r.pageCount+needed > r.MaxPendingPages {
		return fmt.Errorf("%s: %d pages pending: %w", r.Flow.String(), r.pageCount, ErrPendingOverflow)
	}
	if r.MaxPendingBytes > 0 && r.byteCount+len(payload) > r.MaxPendingBytes {
		return fmt.Errorf("%s: %d bytes pending: %w", r.Flow.String(), r.byteCount, ErrPendingOverflow)
	}
	first, last := r.pagesFromSegment(seq, payload, seen)
	if first == nil {
		return fmt.Errorf("%s: page arena exhausted: %w", r.Flow.String(), ErrPendingOverflow)
	}
	prev, current := r.traverse(seq)
	r.pushBetween(prev, current, first, last)
	r.pageCount += needed
	r.byteCount += len(payload)
	r.segments++
	return nil
}

// pagesFromSegment copies a segment payload into one or more pages and
// returns the first and last page of the new doubly-linked list, or nil if
// the pager is out of pages.
func (r *Reassembler) pagesFromSegment(seq types.Sequence, bytes []byte, seen time.Time) (*page, *page) {
	first := r.pager.Next(seen)
	if first == nil {
		return nil, nil
	}
	first.head = true
	current := first
	for {
		length := min(len(bytes), pageBytes)
		current.Bytes = current.buf[:length]
		copy(current.Bytes, bytes)
		current.Seq = seq
		bytes = bytes[length:]
		if len(bytes) == 0 {
			break
		}
		seq = seq.Add(length)
		next := r.pager.Next(seen)
		if next == nil {
			r.pager.ReplaceAllFrom(first)
			return nil, nil
		}
		current.next = next
		next.prev = current
		current = next
	}
	current.tail = true
	return first, current
}

// traverse traverses our doubly-linked list of pages for the correct
// position to put the given sequence number.  Note that it traverses
// backwards, starting at the highest sequence number and going down, since
// we assume the common case is that segments appear in-order with minimal
// loss or reordering.  The returned position never splits the pages of a
// buffered segment.
func (r *Reassembler) traverse(seq types.Sequence) (*page, *page) {
	var prev, current *page
	prev = r.last
	for prev != nil && prev.Seq.Difference(seq) < 0 {
		current = prev
		prev = current.prev
	}
	for prev != nil && !prev.tail {
		prev = current
		current = current.next
	}
	return prev, current
}

// find returns the first page of the buffered segment starting at seq.
func (r *Reassembler) find(seq types.Sequence) *page {
	for p := r.last; p != nil; p = p.prev {
		if p.head && p.Seq == seq {
			return p
		}
		if p.Seq.Difference(seq) > 0 {
			return nil
		}
	}
	return nil
}

// pushBetween inserts the doubly-linked list first-...-last in between the
// nodes prev-next in another doubly-linked list.  If prev is nil, makes first
// the new first page in the list.  If next is nil, makes last the new last
// page in the list.  first/last may point to the same page.
func (r *Reassembler) pushBetween(prev, next, first, last *page) {
	if next == nil || r.last == nil {
		r.last = last
	} else {
		last.next = next
		next.prev = last
	}
	if prev == nil || r.first == nil {
		r.first = first
	} else {
		first.prev = prev
		prev.next = first
	}
}

// unlink detaches the segment head-...-tail from the list and returns its
// tail page.
func (r *Reassembler) unlink(head *page) *page {
	tail := head
	for !tail.tail {
		tail = tail.next
	}
	if head.prev == nil {
		r.first = tail.next
	} else {
		head.prev.next = tail.next
	}
	if tail.next == nil {
		r.last = head.prev
	} else {
		tail.next.prev = head.prev
	}
	head.prev = nil
	tail.next = nil
	return tail
}

// release drops a buffered segment and gives its pages back.
func (r *Reassembler) release(head *page) {
	r.unlink(head)
	for p := head; p != nil; p = p.next {
		r.pageCount--
		r.byteCount -= len(p.Bytes)
	}
	r.segments--
	r.pager.ReplaceAllFrom(head)
}

// popFirst removes the first buffered segment and returns its payload.
func (r *Reassembler) popFirst() ([]byte, time.Time) {
	head := r.first
	seen := head.Seen
	r.unlink(head)
	bytes := []byte{}
	for p := head; p != nil; p = p.next {
		bytes = append(bytes, p.Bytes...)
		r.pageCount--
		r.byteCount -= len(p.Bytes)
	}
	r.segments--
	r.pager.ReplaceAllFrom(head)
	return bytes, seen
}
