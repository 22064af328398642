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

package capfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ncshark/ncshark/types"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Export writes the human readable listing of a capture.  With
// includeNames each line also carries the resolved opcode name.
func Export(w io.Writer, header Header, records []Record, resolver types.Resolver, includeNames bool) error {
	if resolver == nil {
		resolver = types.NopResolver{}
	}
	bw := bufio.NewWriter(w)

	dataSize := 0
	for _, record := range records {
		dataSize += 2 + len(record.Payload)
	}
	fmt.Fprintf(bw, "=== Version: %d; Locale: %d ===\n", header.Build, header.Locale)
	fmt.Fprintf(bw, "Endpoint From: %s\n", header.LocalEndpoint)
	fmt.Fprintf(bw, "Endpoint To: %s\n", header.RemoteEndpoint)
	fmt.Fprintf(bw, "- Packets: %d\n", len(records))
	fmt.Fprintf(bw, "- Data: %s bytes\n", groupThousands(dataSize))
	fmt.Fprintf(bw, "================================================\n")

	outboundCount, inboundCount := 0, 0
	for _, record := range records {
		count := 0
		direction := "Inbound "
		if record.Outbound {
			outboundCount++
			count = outboundCount
			direction = "Outbound"
		} else {
			inboundCount++
			count = inboundCount
		}
		name := ""
		if includeNames {
			name = " | N/A"
			if definition, ok := resolver.ResolveName(record.Outbound, record.Opcode); ok {
				name = " | " + definition.Name
			}
		}
		fmt.Fprintf(bw, "[%s][%d] [%s] [%04X%s] %s\n",
			record.Timestamp.Format(timestampLayout), count, direction, record.Opcode, name, hexBytes(record.Payload))
	}
	return bw.Flush()
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}
