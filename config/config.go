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

// Package config loads the ncshark settings from a config file, the
// environment (NCSHARK_ prefixed) and command line flags through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/spf13/viper"

	"github.com/ncshark/ncshark"
	"github.com/ncshark/ncshark/capfile"
	"github.com/ncshark/ncshark/types"
)

const EnvPrefix = "NCSHARK"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DAQ         string        `mapstructure:"daq" yaml:"daq"`
	Interface   string        `mapstructure:"interface" yaml:"interface"`
	PcapFile    string        `mapstructure:"pcap_file" yaml:"pcap_file"`
	Filter      string        `mapstructure:"filter" yaml:"filter"`
	Snaplen     int32         `mapstructure:"snaplen" yaml:"snaplen"`
	WireTimeout time.Duration `mapstructure:"wire_timeout" yaml:"wire_timeout"`

	LowPort               uint16        `mapstructure:"low_port" yaml:"low_port"`
	HighPort              uint16        `mapstructure:"high_port" yaml:"high_port"`
	ProxyPort             uint16        `mapstructure:"proxy_port" yaml:"proxy_port"`
	IdleCloseAfter        time.Duration `mapstructure:"idle_close_after" yaml:"idle_close_after"`
	TcpIdleTimeout        time.Duration `mapstructure:"tcp_idle_timeout" yaml:"tcp_idle_timeout"`
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	MaxPendingPages       int           `mapstructure:"max_pending_pages" yaml:"max_pending_pages"`
	MaxPendingBytes       int           `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes"`
	MaxPendingPagesTotal  int           `mapstructure:"max_pending_pages_total" yaml:"max_pending_pages_total"`

	SaveDir          string `mapstructure:"save_dir" yaml:"save_dir"`
	LogDir           string `mapstructure:"log_dir" yaml:"log_dir"`
	ArchiveDir       string `mapstructure:"archive_dir" yaml:"archive_dir"`
	LogPackets       bool   `mapstructure:"log_packets" yaml:"log_packets"`
	LogStreams       bool   `mapstructure:"log_streams" yaml:"log_streams"`
	MaxPcapLogSize   int    `mapstructure:"max_pcap_log_size" yaml:"max_pcap_log_size"`
	MaxPcapRotations int    `mapstructure:"max_pcap_rotations" yaml:"max_pcap_rotations"`

	Definitions string `mapstructure:"definitions" yaml:"definitions"`
	DatabaseDSN string `mapstructure:"database_dsn" yaml:"database_dsn"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	Locale      byte   `mapstructure:"locale" yaml:"locale"`
	Build       uint16 `mapstructure:"build" yaml:"build"`
}

// Default returns the settings used for keys that are set nowhere else.
func Default() Config {
	return Config{
		DAQ:                   "libpcap",
		Interface:             "eth0",
		Snaplen:               65536,
		WireTimeout:           100 * time.Millisecond,
		LowPort:               33004,
		HighPort:              35001,
		IdleCloseAfter:        ncshark.DefaultIdleCloseAfter,
		TcpIdleTimeout:        10 * time.Minute,
		MaxConcurrentSessions: 64,
		MaxPendingPages:       64,
		MaxPendingBytes:       64 * 1024,
		MaxPendingPagesTotal:  4096,
		SaveDir:               "captures",
		LogDir:                "logs",
		ArchiveDir:            "archive",
		MaxPcapLogSize:        1,
		MaxPcapRotations:      10,
		Definitions:           "definitions.yaml",
		LogLevel:              "INFO",
		Locale:                capfile.DefaultLocale,
	}
}

// SetDefaults registers every key with v so that environment variables
// are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("daq", d.DAQ)
	v.SetDefault("interface", d.Interface)
	v.SetDefault("pcap_file", d.PcapFile)
	v.SetDefault("filter", d.Filter)
	v.SetDefault("snaplen", d.Snaplen)
	v.SetDefault("wire_timeout", d.WireTimeout)
	v.SetDefault("low_port", d.LowPort)
	v.SetDefault("high_port", d.HighPort)
	v.SetDefault("proxy_port", d.ProxyPort)
	v.SetDefault("idle_close_after", d.IdleCloseAfter)
	v.SetDefault("tcp_idle_timeout", d.TcpIdleTimeout)
	v.SetDefault("max_concurrent_sessions", d.MaxConcurrentSessions)
	v.SetDefault("max_pending_pages", d.MaxPendingPages)
	v.SetDefault("max_pending_bytes", d.MaxPendingBytes)
	v.SetDefault("max_pending_pages_total", d.MaxPendingPagesTotal)
	v.SetDefault("save_dir", d.SaveDir)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("archive_dir", d.ArchiveDir)
	v.SetDefault("log_packets", d.LogPackets)
	v.SetDefault("log_streams", d.LogStreams)
	v.SetDefault("max_pcap_log_size", d.MaxPcapLogSize)
	v.SetDefault("max_pcap_rotations", d.MaxPcapRotations)
	v.SetDefault("definitions", d.Definitions)
	v.SetDefault("database_dsn", d.DatabaseDSN)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("locale", d.Locale)
	v.SetDefault("build", d.Build)
}

// Load reads the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.LowPort > c.HighPort {
		return fmt.Errorf("%w: low_port %d above high_port %d", ErrInvalid, c.LowPort, c.HighPort)
	}
	if c.MaxPcapRotations < 1 {
		return fmt.Errorf("%w: max_pcap_rotations must be at least 1", ErrInvalid)
	}
	if _, err := logging.LogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Level is the parsed log_level.
func (c Config) Level() logging.Level {
	level, err := logging.LogLevel(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

func (c Config) SnifferDriverOptions() *types.SnifferDriverOptions {
	return &types.SnifferDriverOptions{
		DAQ:          c.DAQ,
		Device:       c.Interface,
		Filename:     c.PcapFile,
		Snaplen:      c.Snaplen,
		WireDuration: c.WireTimeout,
		Filter:       c.Filter,
	}
}

func (c Config) DispatcherOptions() ncshark.DispatcherOptions {
	return ncshark.DispatcherOptions{
		LowPort:               c.LowPort,
		HighPort:              c.HighPort,
		ProxyPort:             c.ProxyPort,
		IdleCloseAfter:        c.IdleCloseAfter,
		TcpIdleTimeout:        c.TcpIdleTimeout,
		MaxConcurrentSessions: c.MaxConcurrentSessions,
		Reassembler: ncshark.ReassemblerOptions{
			MaxPendingPages: c.MaxPendingPages,
			MaxPendingBytes: c.MaxPendingBytes,
		},
		MaxPendingPagesTotal: c.MaxPendingPagesTotal,
		Locale:               c.Locale,
		Build:                c.Build,
		LogPackets:           c.LogPackets,
		CaptureClock:         c.PcapFile != "",
	}
}
