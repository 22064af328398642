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

	"github.com/mattn/go-isatty"
	"github.com/op/go-logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncshark/ncshark/capfile"
	"github.com/ncshark/ncshark/config"
)

var log = logging.MustGetLogger("ncshark")

var logFormat = logging.MustStringFormatter(
	"%{level:.4s} %{module} %{message}",
)
var ttyFormat = logging.MustStringFormatter(
	"%{color}%{time:15:04:05} ▶ %{level:.4s} %{module}%{color:reset} %{message}",
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ncshark",
	Short: "ncshark records game sessions",
	Long: `ncshark passively sniffs game client connections, reassembles and
decrypts both directions and records every message to capture files.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ncshark.yaml)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "CRITICAL, ERROR, WARNING, NOTICE, INFO or DEBUG")
	rootCmd.PersistentFlags().Uint8("locale", capfile.DefaultLocale, "locale assumed for legacy captures and new sessions")
	rootCmd.PersistentFlags().String("definitions", "definitions.yaml", "opcode definitions file")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("locale", rootCmd.PersistentFlags().Lookup("locale"))
	viper.BindPFlag("definitions", rootCmd.PersistentFlags().Lookup("definitions"))

	rootCmd.AddCommand(sniffCmd, dumpCmd, exportCmd, importCmd, convertCmd, archiveCmd, migrateCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ncshark")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the configuration and sets up logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return cfg, err
	}
	setupLoggerBackend(cfg.Level())
	return cfg, nil
}

func setupLoggerBackend(level logging.Level) {
	format := logFormat
	if isatty.IsTerminal(os.Stderr.Fd()) {
		format = ttyFormat
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, format)
	leveler := logging.AddModuleLevel(formatter)
	leveler.SetLevel(level, "")
	logging.SetBackend(leveler)
}

// readerOptions resolves the locale of legacy captures to the configured one.
func readerOptions(cfg config.Config) capfile.ReaderOptions {
	return capfile.ReaderOptions{
		Locale: func(*capfile.Header) (byte, error) {
			return cfg.Locale, nil
		},
	}
}
