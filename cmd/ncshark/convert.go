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
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ncshark/ncshark/capfile"
)

var convertCmd = &cobra.Command{
	Use:   "convert <in.msb> <out.msb>",
	Short: "Rewrite a capture file in another capture version",
	Long: `Rewrite a capture file in another capture version, by default the
current one.  Legacy captures take their locale from --locale.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

var convertVersion string

func init() {
	convertCmd.Flags().StringVar(&convertVersion, "version", fmt.Sprintf("0x%04X", capfile.CurrentVersion), "target capture version")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	version, err := strconv.ParseUint(convertVersion, 0, 16)
	if err != nil {
		return fmt.Errorf("version %q: %w", convertVersion, err)
	}

	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	header, records, err := capfile.ReadAll(in, readerOptions(cfg))
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	w, err := capfile.NewVersionWriter(out, header, uint16(version))
	if err == nil {
		for _, record := range records {
			if err = w.WriteRecord(record); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		out.Close()
		os.Remove(args[1])
		return err
	}
	log.Infof("%s: %s -> %s", args[1], capfile.DescribeVersion(header.Version), capfile.DescribeVersion(uint16(version)))
	return out.Close()
}
