// Package session keeps the process-wide set of live sessions and delivers
// login/logout notifications for it asynchronously.
package session

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/listener"
)

const (
	DefaultShards  = 16
	DefaultWorkers = 4
)

type Config struct {
	Shards  int
	Workers int
	Logger  logr.Logger
	// Registry receives notifications. A nil registry makes the cache silent.
	Registry *listener.Registry
	Now      func() time.Time
}

// Cache maps principal ids to their current session. Mutations return
// before listeners run; notifications for one principal are delivered in
// mutation order.
type Cache struct {
	shards     []*shard
	dispatcher *dispatcher
	logger     logr.Logger
	now        func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[int64]*identity.Authentication
}

func New(cfg Config) *Cache {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := cfg.Logger.WithName("session")
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{entries: map[int64]*identity.Authentication{}}
	}

	return &Cache{
		shards:     shards,
		dispatcher: newDispatcher(cfg.Workers, cfg.Registry, logger.WithName("dispatcher")),
		logger:     logger,
		now:        cfg.Now,
	}
}

// Put stores auth under id, replacing any previous session, and schedules a
// login notification. Replacing a session does not notify a logout.
func (c *Cache) Put(id int64, auth *identity.Authentication, props identity.Properties) {
	if auth == nil {
		return
	}
	stored := auth.Clone()

	s, h := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = stored
	c.dispatcher.enqueue(h, notificationFor(listener.EventLogin, stored, props))
}

// Remove deletes the session for id and schedules a logout notification when
// one existed.
func (c *Cache) Remove(id int64, props identity.Properties) bool {
	return c.RemoveIf(id, nil, props)
}

// RemoveIf removes the session for id only when match accepts it. A nil
// match accepts every session.
func (c *Cache) RemoveIf(id int64, match func(identity.Authentication) bool, props identity.Properties) bool {
	s, h := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[id]
	if !ok {
		return false
	}
	if match != nil && !match(*existing.Clone()) {
		return false
	}

	delete(s.entries, id)
	c.dispatcher.enqueue(h, notificationFor(listener.EventLogout, existing, props))
	return true
}

// Refresh swaps the principal of the live session for id when match accepts
// it. No notification is scheduled; the session keeps its id and expiry.
func (c *Cache) Refresh(id int64, match func(identity.Authentication) bool, principal identity.Principal) (*identity.Authentication, bool) {
	s, _ := c.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[id]
	if !ok || existing.Expired(c.now()) {
		return nil, false
	}
	if match != nil && !match(*existing.Clone()) {
		return nil, false
	}

	existing.Principal = principal.Clone()
	return existing.Clone(), true
}

// RemoveAll drains every session and schedules one logout per removed entry.
// All shards are held for the duration so no put interleaves with the drain.
func (c *Cache) RemoveAll(props identity.Properties) int {
	for _, s := range c.shards {
		s.mu.Lock()
	}
	defer func() {
		for i := len(c.shards) - 1; i >= 0; i-- {
			c.shards[i].mu.Unlock()
		}
	}()

	removed := 0
	for _, s := range c.shards {
		for id, existing := range s.entries {
			c.dispatcher.enqueue(hashID(id), notificationFor(listener.EventLogout, existing, props))
			removed++
		}
		s.entries = map[int64]*identity.Authentication{}
	}
	return removed
}

// Contains reports whether id has a live session. An expired session is
// removed and a logout is scheduled for it.
func (c *Cache) Contains(id int64) bool {
	_, ok := c.Get(id)
	return ok
}

func (c *Cache) Get(id int64) (*identity.Authentication, bool) {
	s, h := c.shardFor(id)

	s.mu.RLock()
	existing, ok := s.entries[id]
	if ok && !existing.Expired(c.now()) {
		out := existing.Clone()
		s.mu.RUnlock()
		return out, true
	}
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, still := s.entries[id]; still && current == existing {
		delete(s.entries, id)
		c.logger.V(1).Info("expired session removed", "principalID", id)
		c.dispatcher.enqueue(h, notificationFor(listener.EventLogout, existing, nil))
	}
	return nil, false
}

// Snapshot copies the live sessions, ordered by principal id. Expired
// entries are skipped but left for Contains to reap.
func (c *Cache) Snapshot() []identity.Authentication {
	now := c.now()
	out := []identity.Authentication{}
	for _, s := range c.shards {
		s.mu.RLock()
		for _, existing := range s.entries {
			if existing.Expired(now) {
				continue
			}
			out = append(out, *existing.Clone())
		}
		s.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Principal.ID < out[j].Principal.ID
	})
	return out
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Pending reports notifications that are queued or being delivered.
func (c *Cache) Pending() int64 {
	return c.dispatcher.pending.Load()
}

// Close delivers every queued notification and stops the workers. Mutations
// after Close still update the cache but no longer notify.
func (c *Cache) Close() {
	c.dispatcher.close()
}

func (c *Cache) shardFor(id int64) (*shard, uint64) {
	h := hashID(id)
	return c.shards[h%uint64(len(c.shards))], h
}

func hashID(id int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return xxhash.Sum64(buf[:])
}

func notificationFor(event listener.Event, auth *identity.Authentication, props identity.Properties) notification {
	cloned := props.Clone()
	if auth.SessionID != "" {
		if _, ok := cloned[identity.PropertySessionID]; !ok {
			cloned[identity.PropertySessionID] = auth.SessionID
		}
	}
	return notification{
		event:     event,
		principal: auth.Principal.Clone(),
		props:     cloned,
	}
}
