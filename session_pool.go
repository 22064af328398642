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
	"fmt"
	"sync"
	"time"

	"github.com/ncshark/ncshark/types"
)

// SessionPool is used to track game sessions by their port pair.
// This is inspired by gopacket.tcpassembly's StreamPool.
type SessionPool struct {
	sync.RWMutex

	sessionMap map[types.ConnectionHash]*Session
}

// NewSessionPool returns a new SessionPool struct
func NewSessionPool() *SessionPool {
	return &SessionPool{
		sessionMap: make(map[types.ConnectionHash]*Session),
	}
}

// sessionsLocked returns a slice of Session pointers.
// sessionsLocked is meant to be used by some of the other
// SessionPool methods once they've acquired a lock.
func (c *SessionPool) sessionsLocked() []*Session {
	sessions := make([]*Session, 0, len(c.sessionMap))
	for _, session := range c.sessionMap {
		sessions = append(sessions, session)
	}
	return sessions
}

func (c *SessionPool) Sessions() []*Session {
	c.RLock()
	defer c.RUnlock()
	return c.sessionsLocked()
}

func (c *SessionPool) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.sessionMap)
}

// Has returns true if a session is tracked under the given hash
func (c *SessionPool) Has(hash types.ConnectionHash) bool {
	c.RLock()
	defer c.RUnlock()
	_, ok := c.sessionMap[hash]
	return ok
}

// Get returns the Session tracked under the given hash
func (c *SessionPool) Get(hash types.ConnectionHash) (*Session, error) {
	c.RLock()
	defer c.RUnlock()
	session, ok := c.sessionMap[hash]
	if !ok {
		return nil, fmt.Errorf("no session for ports %s", hash)
	}
	return session, nil
}

// Put sets the sessionMap's key/value
func (c *SessionPool) Put(hash types.ConnectionHash, session *Session) {
	c.Lock()
	defer c.Unlock()
	c.sessionMap[hash] = session
}

// Delete removes a session from the pool
func (c *SessionPool) Delete(hash types.ConnectionHash) {
	c.Lock()
	defer c.Unlock()
	c.deleteWithoutLock(hash)
}

// deleteWithoutLock deletes the specified session from the pool
// or if key not found then print a log message
func (c *SessionPool) deleteWithoutLock(hash types.ConnectionHash) {
	if _, ok := c.sessionMap[hash]; ok {
		delete(c.sessionMap, hash)
	} else {
		log.Debugf("SessionPool.Delete: ports not found: %s", hash)
	}
}

// RemoveOlderThan takes a Time argument and removes the sessions that have
// not received a segment since then, or that CloseMe reports as never
// having logged anything.  The removed sessions are closed and returned.
func (c *SessionPool) RemoveOlderThan(t time.Time, now time.Time) []*Session {
	c.Lock()
	defer c.Unlock()

	removed := []*Session{}
	for hash, session := range c.sessionMap {
		lastSeen := session.LastSeen()
		if session.CloseMe(now) || lastSeen.Equal(t) || lastSeen.Before(t) {
			session.Close()
			c.deleteWithoutLock(hash)
			removed = append(removed, session)
		}
	}
	return removed
}

// RemoveAll closes and returns every session in the pool.
func (c *SessionPool) RemoveAll() []*Session {
	c.Lock()
	defer c.Unlock()

	removed := c.sessionsLocked()
	for _, session := range removed {
		session.Close()
	}
	c.sessionMap = make(map[types.ConnectionHash]*Session)
	return removed
}
