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
	"os"

	"github.com/spf13/cobra"

	"github.com/ncshark/ncshark/capfile"
)

var importCmd = &cobra.Command{
	Use:   "import <msniffer.txt> <capture.msb>",
	Short: "Convert an MSniffer text log into a capture file",
	Args:  cobra.ExactArgs(2),
	RunE:  runImport,
}

var (
	importBuild      uint16
	importLocalPort  uint16
	importRemotePort uint16
	importRemote     string
)

func init() {
	importCmd.Flags().Uint16Var(&importBuild, "build", 0, "client build of the logged session")
	importCmd.Flags().Uint16Var(&importLocalPort, "local-port", 0, "client port of the logged session")
	importCmd.Flags().Uint16Var(&importRemotePort, "remote-port", 0, "server port of the logged session")
	importCmd.Flags().StringVar(&importRemote, "remote", "", "server address of the logged session")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	records, err := capfile.ImportMSniffer(in)
	if err != nil {
		return err
	}

	header := capfile.Header{
		Version:        capfile.CurrentVersion,
		LocalEndpoint:  "127.0.0.1",
		LocalPort:      importLocalPort,
		RemoteEndpoint: importRemote,
		RemotePort:     importRemotePort,
		Locale:         cfg.Locale,
		Build:          importBuild,
	}
	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := capfile.WriteAll(out, header, records); err != nil {
		out.Close()
		return err
	}
	log.Infof("imported %d messages into %s", len(records), args[1])
	return out.Close()
}
