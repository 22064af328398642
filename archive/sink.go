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

package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ncshark/ncshark"
	"github.com/ncshark/ncshark/capfile"
)

const defaultSaveTimeout = 30 * time.Second

// Sink archives every finished session handed to it by the dispatcher.
type Sink struct {
	Store   *Store
	Timeout time.Duration
}

func (a *Sink) SessionClosed(s *ncshark.Session) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = defaultSaveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	id, err := a.Store.SaveSession(ctx, s.Header(), s.Records())
	if err != nil {
		log.Errorf("archiving %s: %s", s.Flow().String(), err)
		return
	}
	log.Infof("archived %s as session %d", s.Flow().String(), id)
}

// ImportFiles archives capture files, at most concurrency at a time.  The
// returned ids are in the order of paths.
func ImportFiles(ctx context.Context, store *Store, paths []string, options capfile.ReaderOptions, concurrency int) ([]int64, error) {
	ids := make([]int64, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			header, records, err := capfile.ReadAll(f, options)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id, err := store.SaveSession(gctx, header, records)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
