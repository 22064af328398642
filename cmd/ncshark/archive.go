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
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncshark/ncshark/archive"
	"github.com/ncshark/ncshark/capfile"
	"github.com/ncshark/ncshark/config"
)

var errNoDatabase = errors.New("database_dsn is not configured")

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage the PostgreSQL session archive",
}

var archivePutCmd = &cobra.Command{
	Use:   "put <capture.msb>...",
	Short: "Archive capture files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runArchivePut,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <id> <capture.msb>",
	Short: "Write an archived session to a capture file",
	Args:  cobra.ExactArgs(2),
	RunE:  runArchiveGet,
}

var archiveRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an archived session",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveRm,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the archive schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var archiveConcurrency int

func init() {
	rootCmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN of the session archive")
	viper.BindPFlag("database_dsn", rootCmd.PersistentFlags().Lookup("database-dsn"))
	archivePutCmd.Flags().IntVar(&archiveConcurrency, "concurrency", 4, "files archived at once")
	archiveCmd.AddCommand(archivePutCmd, archiveListCmd, archiveGetCmd, archiveRmCmd)
}

func openStore(cmd *cobra.Command) (*archive.Store, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if cfg.DatabaseDSN == "" {
		return nil, cfg, errNoDatabase
	}
	store, err := archive.New(cmd.Context(), cfg.DatabaseDSN)
	return store, cfg, err
}

func runArchivePut(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ids, err := archive.ImportFiles(cmd.Context(), store, args, readerOptions(cfg), archiveConcurrency)
	if err != nil {
		return err
	}
	for i, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[i], id)
	}
	return nil
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	summaries, err := store.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		fmt.Fprintln(cmd.OutOrStdout(), summary)
	}
	return nil
}

func runArchiveGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("session id %q: %w", args[0], err)
	}
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	header, records, err := store.LoadSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := capfile.WriteAll(out, header, records); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runArchiveRm(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("session id %q: %w", args[0], err)
	}
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteSession(cmd.Context(), id)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return errNoDatabase
	}
	if err := archive.Migrate(cmd.Context(), cfg.DatabaseDSN); err != nil {
		return err
	}
	log.Info("archive schema is up to date")
	return nil
}
