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

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ncshark/ncshark"
	"github.com/ncshark/ncshark/definitions"
	"github.com/ncshark/ncshark/types"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <capture.msb>",
	Short: "Print the messages of a capture file",
	Long: `Print the messages of a capture file, outbound in green and inbound
in cyan.  Opcodes marked ignored in the definitions file are grey.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

var (
	dumpNoOutbound bool
	dumpNoInbound  bool
	dumpNoIgnored  bool
	dumpOpcodes    bool
	dumpInfo       bool
)

func init() {
	dumpCmd.Flags().BoolVar(&dumpNoOutbound, "no-outbound", false, "hide outbound messages")
	dumpCmd.Flags().BoolVar(&dumpNoInbound, "no-inbound", false, "hide inbound messages")
	dumpCmd.Flags().BoolVar(&dumpNoIgnored, "hide-ignored", false, "hide messages whose opcode is marked ignored")
	dumpCmd.Flags().BoolVar(&dumpOpcodes, "opcodes", false, "list the opcodes seen instead of the messages")
	dumpCmd.Flags().BoolVar(&dumpInfo, "info", false, "print the session information first")
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := ncshark.OpenSession(args[0], readerOptions(cfg))
	if err != nil {
		return err
	}
	registry, err := definitions.Load(cfg.Definitions)
	if err != nil {
		return err
	}
	resolver := registry.Locale(session.Locale())
	out := cmd.OutOrStdout()

	if dumpInfo {
		fmt.Fprintf(out, "%s\n\n", session.Info())
	}
	if dumpOpcodes {
		printOpcodes(out, session, resolver)
		return nil
	}
	filter := ncshark.ViewFilter{Outbound: !dumpNoOutbound, Inbound: !dumpNoInbound, Ignored: !dumpNoIgnored}
	printMessages(out, session.Refresh(resolver, filter))
	return nil
}

var (
	outboundColor = color.New(color.FgGreen)
	inboundColor  = color.New(color.FgCyan)
	ignoredColor  = color.New(color.FgHiBlack)
)

func printMessages(out io.Writer, items []ncshark.ViewItem) {
	for _, item := range items {
		c := inboundColor
		if item.Direction.IsOutbound() {
			c = outboundColor
		}
		if item.Ignored {
			c = ignoredColor
		}
		name := item.Name
		if name == "" {
			name = "N/A"
		}
		c.Fprintf(out, "%6d %s %-8s 0x%04X %-24s %d..%d %s\n",
			item.Index, item.Timestamp.Format("15:04:05.000"), item.Direction, item.Opcode, name,
			item.PreDecodePosition, item.PostDecodePosition, hexPayload(item.Payload))
	}
}

func printOpcodes(out io.Writer, session *ncshark.Session, resolver types.Resolver) {
	counts := map[ncshark.OpcodeKey]int{}
	for _, message := range session.Messages() {
		counts[ncshark.OpcodeKey{Outbound: message.Direction.IsOutbound(), Opcode: message.Opcode}]++
	}
	for _, key := range session.Opcodes() {
		name := "N/A"
		if definition, ok := resolver.ResolveName(key.Outbound, key.Opcode); ok {
			name = definition.Name
		}
		c := inboundColor
		if key.Outbound {
			c = outboundColor
		}
		c.Fprintf(out, "%s %-24s %d\n", key, name, counts[key])
	}
}

func hexPayload(payload []byte) string {
	const limit = 32
	if len(payload) <= limit {
		return fmt.Sprintf("% X", payload)
	}
	return fmt.Sprintf("% X ...(%d)", payload[:limit], len(payload))
}

// openOutput returns stdout for an empty path or "-".
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
