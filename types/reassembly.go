/*
 *    I include google's license because this code is copy-pasted and refactored
 *    from the original, Google's gopacket.tcpassembly...
 *    Thanks to Graeme Connel for writing tcpassembly!
 */
// Copyright 2012 Google, Inc. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE_BSD file in the root of the source
// tree.

package types

import (
	"fmt"
	"time"
)

// Reassembly is one in-order, already decrypted chunk of a direction's
// byte stream. Each chunk corresponds to (a suffix of) exactly one TCP
// segment.
type Reassembly struct {
	// Seq is the TCP sequence number of the first byte in Bytes
	Seq Sequence

	// Bytes is the next set of bytes in the stream.  May be empty.
	Bytes []byte
	// Trimmed is the number of leading bytes of the segment that were
	// already part of the stream and got dropped.
	Trimmed int
	// Drained is set if the segment had been buffered out of order.
	Drained bool
	// KeystreamStart and KeystreamEnd are the cipher positions before the
	// first and after the last byte of Bytes.
	KeystreamStart uint32
	KeystreamEnd   uint32
	// Seen is the timestamp this set of bytes was pulled off the wire.
	Seen time.Time
}

// String returns a string representation of Reassembly
func (r Reassembly) String() string {
	return fmt.Sprintf("Reassembly: Seq %d Bytes len %d Trimmed %d Drained %v Seen %s", r.Seq, len(r.Bytes), r.Trimmed, r.Drained, r.Seen)
}
