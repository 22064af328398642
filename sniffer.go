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
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ncshark/ncshark/drivers"
	"github.com/ncshark/ncshark/types"
)

// Sniffer reads packets from a capture driver, either a pcap file or a
// live interface, and hands their TCP segments to a SegmentReceiver.
type Sniffer struct {
	options          *types.SnifferDriverOptions
	receiver         SegmentReceiver
	packetDataSource types.PacketDataSourceCloser
}

// NewSniffer creates a Sniffer reading from the driver named in options.
func NewSniffer(options *types.SnifferDriverOptions, receiver SegmentReceiver) *Sniffer {
	return &Sniffer{
		options:  options,
		receiver: receiver,
	}
}

// NewSnifferFromSource creates a Sniffer reading from an already open
// packet source.
func NewSnifferFromSource(source types.PacketDataSourceCloser, receiver SegmentReceiver) *Sniffer {
	return &Sniffer{
		receiver:         receiver,
		packetDataSource: source,
	}
}

func (i *Sniffer) setupHandle() error {
	if i.packetDataSource != nil {
		return nil
	}
	source, err := drivers.Open(i.options)
	if err != nil {
		return err
	}
	i.packetDataSource = source

	var what string
	if i.options.Filename != "" {
		what = fmt.Sprintf("file %s", i.options.Filename)
	} else {
		what = fmt.Sprintf("interface %s", i.options.Device)
	}
	log.Infof("Starting %s packet capture on %s", i.options.DAQ, what)
	return nil
}

// Run captures until the source is exhausted or ctx is done.  The receiver's
// input is closed when the source runs out.
func (i *Sniffer) Run(ctx context.Context) error {
	if err := i.setupHandle(); err != nil {
		return err
	}
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("closing packet capture")
			i.packetDataSource.Close()
		case <-stopped:
		}
	}()

	decoder := newSegmentDecoder()
	for {
		rawPacket, captureInfo, err := i.packetDataSource.ReadPacketData()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			log.Info("ReadPacketData got EOF")
			i.packetDataSource.Close()
			i.receiver.CloseInput()
			return nil
		}
		if err != nil {
			if !errors.Is(err, types.ErrTimeout) {
				log.Debugf("ReadPacketData: %s", err)
			}
			continue
		}
		segment, ok := decoder.decode(rawPacket, captureInfo)
		if ok {
			i.receiver.ReceiveSegment(segment)
		}
	}
}

type segmentDecoder struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newSegmentDecoder() *segmentDecoder {
	d := &segmentDecoder{decoded: make([]gopacket.LayerType, 0, 4)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.ip4, &d.ip6, &d.tcp, &d.payload)
	return d
}

// decode returns the TCP segment carried by rawPacket.  Anything that is
// not TCP over IP is skipped.
func (d *segmentDecoder) decode(rawPacket []byte, ci gopacket.CaptureInfo) (*types.Segment, bool) {
	// unsupported layers past TCP are reported as errors; what was decoded
	// up to that point is still good.
	_ = d.parser.DecodeLayers(rawPacket, &d.decoded)

	var netFlow gopacket.Flow
	var haveIP, haveTCP bool
	for _, layerType := range d.decoded {
		switch layerType {
		case layers.LayerTypeIPv4:
			netFlow = d.ip4.NetworkFlow()
			haveIP = true
		case layers.LayerTypeIPv6:
			netFlow = d.ip6.NetworkFlow()
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return nil, false
	}

	segment := &types.Segment{
		Timestamp: ci.Timestamp,
		Flow:      types.NewTcpIpFlowFromFlows(netFlow, d.tcp.TransportFlow()),
		Seq:       types.Sequence(d.tcp.Seq),
		Ack:       types.Sequence(d.tcp.Ack),
		SYN:       d.tcp.SYN,
		ACK:       d.tcp.ACK,
		FIN:       d.tcp.FIN,
		RST:       d.tcp.RST,
		RawPacket: rawPacket,
	}
	if len(d.tcp.Payload) > 0 {
		segment.Payload = append([]byte(nil), d.tcp.Payload...)
	}
	return segment, true
}
