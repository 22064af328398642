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

// Package definitions is the opcode name registry.  Definitions are kept
// per locale in a YAML file of the form
//
//	definitions:
//	  - locale: 1
//	    outbound: true
//	    opcode: 0x0010
//	    name: LoginRequest
//	    ignore: false
package definitions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ncshark/ncshark/types"
)

type file struct {
	Definitions []types.Definition `yaml:"definitions"`
}

type key struct {
	locale   byte
	outbound bool
	opcode   uint16
}

func keyOf(d types.Definition) key {
	return key{locale: d.Locale, outbound: d.Outbound, opcode: d.Opcode}
}

// Registry holds the definitions of every locale.  It is safe for
// concurrent use.
type Registry struct {
	sync.RWMutex
	path string
	defs map[key]types.Definition
}

// New returns an empty registry that saves to path.
func New(path string) *Registry {
	return &Registry{
		path: path,
		defs: make(map[key]types.Definition),
	}
}

// Load reads the registry at path.  A missing file is an empty registry.
func Load(path string) (*Registry, error) {
	r := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing definitions %s: %w", path, err)
	}
	for _, d := range f.Definitions {
		r.defs[keyOf(d)] = d
	}
	return r, nil
}

func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.defs)
}

// Lookup finds the definition of an opcode in a locale.
func (r *Registry) Lookup(locale byte, outbound bool, opcode uint16) (types.Definition, bool) {
	r.RLock()
	defer r.RUnlock()
	d, ok := r.defs[key{locale: locale, outbound: outbound, opcode: opcode}]
	return d, ok
}

// Put adds or replaces a definition.
func (r *Registry) Put(d types.Definition) {
	r.Lock()
	defer r.Unlock()
	r.defs[keyOf(d)] = d
}

func (r *Registry) Remove(locale byte, outbound bool, opcode uint16) {
	r.Lock()
	defer r.Unlock()
	delete(r.defs, key{locale: locale, outbound: outbound, opcode: opcode})
}

// Definitions returns every definition ordered by locale, direction and
// opcode.
func (r *Registry) Definitions() []types.Definition {
	r.RLock()
	defer r.RUnlock()
	defs := make([]types.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Locale != b.Locale {
			return a.Locale < b.Locale
		}
		if a.Outbound != b.Outbound {
			return a.Outbound
		}
		return a.Opcode < b.Opcode
	})
	return defs
}

// Save writes the registry back to the file it was loaded from.
func (r *Registry) Save() error {
	return r.SaveAs(r.path)
}

func (r *Registry) SaveAs(path string) error {
	data, err := yaml.Marshal(&file{Definitions: r.Definitions()})
	if err != nil {
		return fmt.Errorf("marshal definitions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("definitions directory: %w", err)
	}
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("writing definitions: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("writing definitions: %w", err)
	}
	return nil
}

// Locale returns a resolver over the definitions of one locale.
func (r *Registry) Locale(locale byte) types.Resolver {
	return localeResolver{registry: r, locale: locale}
}

type localeResolver struct {
	registry *Registry
	locale   byte
}

func (l localeResolver) ResolveName(outbound bool, opcode uint16) (types.Definition, bool) {
	return l.registry.Lookup(l.locale, outbound, opcode)
}
