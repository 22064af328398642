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
	"github.com/ncshark/ncshark/definitions"
)

var exportCmd = &cobra.Command{
	Use:   "export <capture.msb>",
	Short: "Write a capture file as a text listing",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var (
	exportOutput string
	exportNames  bool
)

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportNames, "names", false, "include opcode names from the definitions file")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	header, records, err := capfile.ReadAll(f, readerOptions(cfg))
	if err != nil {
		return err
	}
	registry, err := definitions.Load(cfg.Definitions)
	if err != nil {
		return err
	}

	out, err := openOutput(exportOutput)
	if err != nil {
		return err
	}
	if err := capfile.Export(out, header, records, registry.Locale(header.Locale), exportNames); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
