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
	"sync"
	"time"

	"github.com/ncshark/ncshark/types"
)

const (
	pageBytes        = 1900
	initialAllocSize = 1024
)

// page is used to store TCP data we're not ready for yet (out-of-order
// segments).  Unused pages are stored in and returned from a pageCache, which
// avoids memory allocation.  Used pages are stored in a doubly-linked list in
// a Reassembler.  A segment larger than pageBytes spans several pages; head
// marks its first page and tail its last.
type page struct {
	types.Reassembly
	head, tail bool
	prev, next *page
	buf        [pageBytes]byte
}

// pageCache is a concurrency-unsafe store of page objects we use to avoid
// memory allocation as much as we can.  It grows up to maxUsed pages.
type pageCache struct {
	free         []*page
	pcSize       int
	size, used   int
	maxUsed      int
	pages        [][]page
	pageRequests int64
}

func newPageCache(maxUsed int) *pageCache {
	pc := &pageCache{
		free:    make([]*page, 0, initialAllocSize),
		pcSize:  initialAllocSize,
		maxUsed: maxUsed,
	}
	if maxUsed > 0 && pc.pcSize > maxUsed {
		pc.pcSize = maxUsed
	}
	pc.grow()
	return pc
}

// grow exponentially increases the size of our page cache as much as necessary.
func (c *pageCache) grow() {
	pages := make([]page, c.pcSize)
	c.pages = append(c.pages, pages)
	c.size += c.pcSize
	for i := range pages {
		c.free = append(c.free, &pages[i])
	}
	log.Debugf("PageCache: created %d new pages", c.pcSize)
	c.pcSize *= 2
}

// next returns a clean, ready-to-use page object, or nil if the cache is
// already handing out maxUsed pages.
func (c *pageCache) next(ts time.Time) (p *page) {
	c.pageRequests++
	if c.pageRequests&0xFFFF == 0 {
		log.Debugf("PageCache: %d requested, %d used, %d free", c.pageRequests, c.used, len(c.free))
	}
	if c.maxUsed > 0 && c.used >= c.maxUsed {
		return nil
	}
	if len(c.free) == 0 {
		c.grow()
	}
	i := len(c.free) - 1
	p, c.free = c.free[i], c.free[:i]
	p.prev = nil
	p.next = nil
	p.head = false
	p.tail = false
	p.Reassembly = types.Reassembly{Seen: ts}
	p.Bytes = p.buf[:0]
	c.used++
	return p
}

// replace replaces a page into the pageCache.
func (c *pageCache) replace(p *page) {
	c.used--
	c.free = append(c.free, p)
}

// Pager is the process wide page arena shared by every session's
// reassemblers.  MaxPages caps the pages in use across all of them.
type Pager struct {
	sync.Mutex
	pageCache *pageCache
}

// NewPager creates a new Pager. maxPages <= 0 means no global limit.
func NewPager(maxPages int) *Pager {
	return &Pager{
		pageCache: newPageCache(maxPages),
	}
}

// Next returns a page stamped with timestamp, or nil when the arena is full.
func (p *Pager) Next(timestamp time.Time) *page {
	p.Lock()
	defer p.Unlock()
	return p.pageCache.next(timestamp)
}

// Replace takes a page pointer argument and appends it to the pagecache's free list
func (p *Pager) Replace(pagePtr *page) {
	p.Lock()
	defer p.Unlock()
	p.pageCache.replace(pagePtr)
}

// ReplaceAllFrom shall perform the Replace operation for all subsequently linked pages
func (p *Pager) ReplaceAllFrom(pagePtr *page) {
	p.Lock()
	defer p.Unlock()
	for c := pagePtr; c != nil; {
		next := c.next
		p.pageCache.replace(c)
		c = next
	}
}

func (p *Pager) Used() int {
	p.Lock()
	defer p.Unlock()
	return p.pageCache.used
}
