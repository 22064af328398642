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

package ncshark

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ncshark/ncshark/types"
)

type SupervisorOptions struct {
	SnifferDriverOptions *types.SnifferDriverOptions
	DispatcherOptions    DispatcherOptions
	SessionSink          SessionSink
	PacketLoggerFactory  types.PacketLoggerFactory
	StreamSinkFactory    types.StreamSinkFactory
}

// Supervisor runs a Sniffer feeding a Dispatcher until the capture ends or
// the process is interrupted.
type Supervisor struct {
	dispatcher *Dispatcher
	sniffer    *Sniffer
}

// NewSupervisor wires a Sniffer to a new Dispatcher.
func NewSupervisor(options SupervisorOptions) *Supervisor {
	if options.SnifferDriverOptions != nil && options.SnifferDriverOptions.Filename != "" {
		options.DispatcherOptions.CaptureClock = true
	}
	dispatcher := NewDispatcher(options.DispatcherOptions, options.SessionSink, options.PacketLoggerFactory)
	dispatcher.StreamSinkFactory = options.StreamSinkFactory
	return &Supervisor{
		dispatcher: dispatcher,
		sniffer:    NewSniffer(options.SnifferDriverOptions, dispatcher),
	}
}

func (b *Supervisor) GetDispatcher() *Dispatcher {
	return b.dispatcher
}

func (b *Supervisor) GetSniffer() *Sniffer {
	return b.sniffer
}

// Run blocks until the packet source is exhausted, ctx is done or the
// process receives SIGINT or SIGTERM.  Open sessions are closed and handed
// to the sink before it returns.
func (b *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.dispatcher.Run(gctx); err != nil {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := b.sniffer.Run(gctx); err != nil {
			return fmt.Errorf("sniffer: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("graceful shutdown: packet-source stopped")
	return nil
}
