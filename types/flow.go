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

package types

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TcpIpFlow is used for tracking unidirectional TCP flows
type TcpIpFlow struct {
	ipFlow  gopacket.Flow
	tcpFlow gopacket.Flow
}

// NewTcpIp4FlowFromLayers given IPv4 and TCP layers it returns a TcpIpFlow
func NewTcpIp4FlowFromLayers(ipLayer layers.IPv4, tcpLayer layers.TCP) *TcpIpFlow {
	return &TcpIpFlow{
		ipFlow:  ipLayer.NetworkFlow(),
		tcpFlow: tcpLayer.TransportFlow(),
	}
}

// NewTcpIp6FlowFromLayers given IPv6 and TCP layers it returns a TcpIpFlow
func NewTcpIp6FlowFromLayers(ipLayer layers.IPv6, tcpLayer layers.TCP) *TcpIpFlow {
	return &TcpIpFlow{
		ipFlow:  ipLayer.NetworkFlow(),
		tcpFlow: tcpLayer.TransportFlow(),
	}
}

// NewTcpIpFlowFromFlows given a net flow (either ipv4 or ipv6) and TCP flow returns a TcpIpFlow
func NewTcpIpFlowFromFlows(netFlow gopacket.Flow, tcpFlow gopacket.Flow) TcpIpFlow {
	return TcpIpFlow{
		ipFlow:  netFlow,
		tcpFlow: tcpFlow,
	}
}

// NewTcpIpFlow builds a flow from plain addresses and ports.
func NewTcpIpFlow(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) TcpIpFlow {
	ipFlow, _ := gopacket.FlowFromEndpoints(layers.NewIPEndpoint(srcIP), layers.NewIPEndpoint(dstIP))
	tcpFlow, _ := gopacket.FlowFromEndpoints(layers.NewTCPPortEndpoint(layers.TCPPort(srcPort)), layers.NewTCPPortEndpoint(layers.TCPPort(dstPort)))
	return NewTcpIpFlowFromFlows(ipFlow, tcpFlow)
}

// String returns the string representation of a TcpIpFlow
func (t TcpIpFlow) String() string {
	return fmt.Sprintf("%s-%s", t.SrcEndpoint(), t.DstEndpoint())
}

// Reverse returns a reversed TcpIpFlow, that is to say the resulting
// TcpIpFlow flow will be made up of a reversed IP flow and a reversed
// TCP flow.
func (t *TcpIpFlow) Reverse() TcpIpFlow {
	return NewTcpIpFlowFromFlows(t.ipFlow.Reverse(), t.tcpFlow.Reverse())
}

// Equal returns true if TcpIpFlow structs t and s are equal. False otherwise.
func (t *TcpIpFlow) Equal(s *TcpIpFlow) bool {
	return t.ipFlow == s.ipFlow && t.tcpFlow == s.tcpFlow
}

// Flows returns the component flow structs IP, TCP
func (t *TcpIpFlow) Flows() (gopacket.Flow, gopacket.Flow) {
	return t.ipFlow, t.tcpFlow
}

// Valid reports whether both the network and transport halves carry
// endpoints of the expected types.
func (t *TcpIpFlow) Valid() bool {
	ipType := t.ipFlow.EndpointType()
	return (ipType == layers.EndpointIPv4 || ipType == layers.EndpointIPv6) &&
		t.tcpFlow.EndpointType() == layers.EndpointTCPPort
}

func portOf(e gopacket.Endpoint) uint16 {
	raw := e.Raw()
	if len(raw) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(raw)
}

// SrcPort returns the TCP source port.
func (t *TcpIpFlow) SrcPort() uint16 {
	return portOf(t.tcpFlow.Src())
}

// DstPort returns the TCP destination port.
func (t *TcpIpFlow) DstPort() uint16 {
	return portOf(t.tcpFlow.Dst())
}

// SrcEndpoint renders the source as "ip:port".
func (t *TcpIpFlow) SrcEndpoint() string {
	return fmt.Sprintf("%s:%d", t.ipFlow.Src().String(), t.SrcPort())
}

// DstEndpoint renders the destination as "ip:port".
func (t *TcpIpFlow) DstEndpoint() string {
	return fmt.Sprintf("%s:%d", t.ipFlow.Dst().String(), t.DstPort())
}

// ConnectionHash is the direction independent key of a connection:
// the two TCP ports in ascending order.
type ConnectionHash struct {
	Low, High uint16
}

func (h ConnectionHash) String() string {
	return fmt.Sprintf("%d-%d", h.Low, h.High)
}

// ConnectionHash returns the same value for a flow and its reverse.
func (t *TcpIpFlow) ConnectionHash() ConnectionHash {
	return NewConnectionHash(t.SrcPort(), t.DstPort())
}

// NewConnectionHash builds a ConnectionHash from a port pair.
func NewConnectionHash(a, b uint16) ConnectionHash {
	if a > b {
		a, b = b, a
	}
	return ConnectionHash{Low: a, High: b}
}
