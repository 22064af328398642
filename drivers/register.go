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

// Package drivers holds the packet sources a Sniffer can read from.
// Each driver registers itself by name from an init function.
package drivers

import (
	"fmt"
	"sort"

	"github.com/ncshark/ncshark/types"
)

type Factory func(*types.SnifferDriverOptions) (types.PacketDataSourceCloser, error)

var Drivers = map[string]Factory{}

// SnifferRegister makes a sniffer driver available by the provided name.
// If SnifferRegister is called twice with the same name or if factory is
// nil, it panics.
func SnifferRegister(name string, factory Factory) {
	if factory == nil {
		panic("sniffer: factory is nil")
	}
	if _, dup := Drivers[name]; dup {
		panic("sniffer: Register called twice for sniffer " + name)
	}
	Drivers[name] = factory
}

// Open starts the named driver.
func Open(options *types.SnifferDriverOptions) (types.PacketDataSourceCloser, error) {
	factory, ok := Drivers[options.DAQ]
	if !ok {
		return nil, fmt.Errorf("%s sniffer not supported on this system, have %v", options.DAQ, Names())
	}
	source, err := factory(options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", options.DAQ, err)
	}
	return source, nil
}

// Names lists the registered drivers.
func Names() []string {
	names := make([]string, 0, len(Drivers))
	for name := range Drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
