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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncshark/ncshark"
	"github.com/ncshark/ncshark/archive"
	"github.com/ncshark/ncshark/config"
	"github.com/ncshark/ncshark/drivers"
	"github.com/ncshark/ncshark/logging"
	"github.com/ncshark/ncshark/types"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Record game sessions off the wire or from a pcap file",
	Long: `Record game sessions off the wire or from a pcap file.

Every connection to a server port in [low-port, high-port] is followed
from its handshake.  When it ends its messages are written to
save-dir as "Port <local port>-<time>.msb".

Examples:
  # Live capture
  ncshark sniff -i eth0 --low-port 8484 --high-port 8600

  # Replay a capture file without libpcap
  ncshark sniff --daq pcapgo -r game.pcap`,
	RunE: runSniff,
}

func init() {
	flags := sniffCmd.Flags()
	flags.String("daq", "libpcap", "Data AcQuisition packet source")
	flags.StringP("interface", "i", "eth0", "interface to get packets from")
	flags.StringP("read-file", "r", "", "pcap filename to read packets from rather than a wire interface")
	flags.StringP("filter", "f", "", "BPF filter, libpcap only")
	flags.Int32P("snaplen", "s", 65536, "SnapLen for pcap packet capture")
	flags.Duration("wire-timeout", 0, "timeout for reading packets off the wire")
	flags.Uint16("low-port", 0, "lowest server port to follow")
	flags.Uint16("high-port", 0, "highest server port to follow")
	flags.Uint16("proxy-port", 0, "server port as seen through a local proxy")
	flags.Duration("tcp-idle-timeout", 0, "close sessions that saw no packet for this long")
	flags.Int("max-concurrent-sessions", 0, "maximum number of sessions to follow at once")
	flags.String("save-dir", "", "directory capture files are written to")
	flags.Bool("log-packets", false, "keep a pcap log of every session")
	flags.Bool("log-streams", false, "write the decrypted stream of every direction")

	bind := map[string]string{
		"daq":                     "daq",
		"interface":               "interface",
		"pcap_file":               "read-file",
		"filter":                  "filter",
		"snaplen":                 "snaplen",
		"wire_timeout":            "wire-timeout",
		"low_port":                "low-port",
		"high_port":               "high-port",
		"proxy_port":              "proxy-port",
		"tcp_idle_timeout":        "tcp-idle-timeout",
		"max_concurrent_sessions": "max-concurrent-sessions",
		"save_dir":                "save-dir",
		"log_packets":             "log-packets",
		"log_streams":             "log-streams",
	}
	for key, flag := range bind {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runSniff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Infof("ncshark: recording game sessions, drivers %v", drivers.Names())

	eventLogger, err := logging.NewSessionEventFileLogger(cfg.LogDir)
	if err != nil {
		return err
	}
	eventLogger.Start()
	defer eventLogger.Stop()

	sinks := ncshark.SessionSinks{&ncshark.CaptureSaver{Dir: cfg.SaveDir}}
	if cfg.DatabaseDSN != "" {
		store, err := archive.New(cmd.Context(), cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, &archive.Sink{Store: store})
	}

	options := supervisorOptions(cfg, eventLogger, sinks)
	return ncshark.NewSupervisor(options).Run(cmd.Context())
}

func supervisorOptions(cfg config.Config, logger types.Logger, sink ncshark.SessionSink) ncshark.SupervisorOptions {
	dispatcherOptions := cfg.DispatcherOptions()
	dispatcherOptions.Logger = logger

	var packetLoggerFactory types.PacketLoggerFactory
	if cfg.LogPackets {
		packetLoggerFactory = logging.NewPcapLoggerFactory(cfg.LogDir, cfg.ArchiveDir, cfg.MaxPcapRotations, cfg.MaxPcapLogSize)
	}
	var streamSinkFactory types.StreamSinkFactory
	if cfg.LogStreams {
		streamSinkFactory = logging.StreamLoggerFactory{Dir: cfg.LogDir}
	}
	return ncshark.SupervisorOptions{
		SnifferDriverOptions: cfg.SnifferDriverOptions(),
		DispatcherOptions:    dispatcherOptions,
		SessionSink:          sink,
		PacketLoggerFactory:  packetLoggerFactory,
		StreamSinkFactory:    streamSinkFactory,
	}
}
