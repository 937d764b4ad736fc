package crashtable

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/segvguard/internal/clock"
	"github.com/ppiankov/segvguard/internal/model"
)

// DefaultShards is the shard count used when Options.Shards is zero.
const DefaultShards = 512

// ErrTableFull is returned by Upsert when a new entry would exceed
// Options.MaxEntries.
var ErrTableFull = errors.New("crash table full")

// Entry is one crash counter. Fields may only be touched inside an Update
// or Upsert closure.
type Entry struct {
	Key      model.CrashKey
	Crashes  int
	State    model.EntryState
	Deadline time.Time
	Name     string // display name of the most recent crash
}

// Arm replaces the entry's pending deadline.
func (e *Entry) Arm(deadline time.Time) {
	e.Deadline = deadline
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.Deadline)
}

// Info returns a copy of the entry.
func (e *Entry) Info() model.EntryInfo {
	return model.EntryInfo{
		Key:      e.Key,
		Crashes:  e.Crashes,
		State:    e.State,
		Deadline: e.Deadline,
		Name:     e.Name,
	}
}

type shard struct {
	mu      sync.Mutex
	entries map[model.CrashKey]*Entry
}

// Options configure a Store. Zero values select defaults.
type Options struct {
	Shards     int // fixed for the lifetime of the store
	MaxEntries int // 0 means unlimited
	Clock      clock.Clock
	Logger     *slog.Logger

	// OnExpire is called after an expired entry has been removed, outside
	// the shard lock.
	OnExpire func(model.EntryInfo)
}

// Store is the sharded crash table.
type Store struct {
	shards     []shard
	maxEntries int64
	count      atomic.Int64
	clock      clock.Clock
	logger     *slog.Logger
	onExpire   func(model.EntryInfo)
}

// New creates a Store.
func New(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Store{
		shards:     make([]shard, opts.Shards),
		maxEntries: int64(opts.MaxEntries),
		clock:      opts.Clock,
		logger:     opts.Logger,
		onExpire:   opts.OnExpire,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[model.CrashKey]*Entry)
	}
	return s
}

// Shards returns the fixed shard count.
func (s *Store) Shards() int { return len(s.shards) }

// Len returns the number of entries currently stored, including any that
// have expired but not yet been evicted.
func (s *Store) Len() int { return int(s.count.Load()) }

// shardIndex hashes the key with FNV-1a over inode, mount id and uid.
func (s *Store) shardIndex(key model.CrashKey) int {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], key.Inode)
	binary.LittleEndian.PutUint64(buf[8:16], key.MountID)
	binary.LittleEndian.PutUint32(buf[16:20], key.UID)
	h := fnv.New32a()
	h.Write(buf[:])
	return int(h.Sum32() % uint32(len(s.shards)))
}

// Update runs fn on the live entry for key while holding its shard lock.
// fn may modify e but never creates it: Update returns false, without
// calling fn, when no live entry exists. fn must not retain e or call
// back into the store.
func (s *Store) Update(key model.CrashKey, fn func(e *Entry)) bool {
	sh := &s.shards[s.shardIndex(key)]
	now := s.clock.Now()

	sh.mu.Lock()
	e, expired := s.lookupLocked(sh, key, now)
	if e != nil {
		fn(e)
	}
	sh.mu.Unlock()

	s.reportExpired(expired)
	return e != nil
}

// Upsert runs fn on the live entry for key while holding its shard lock,
// creating the entry first when there is none. A created entry has zero
// crashes and no deadline; fn must arm it. If the table is full no entry
// is created, fn is not called and ErrTableFull is returned.
func (s *Store) Upsert(key model.CrashKey, fn func(e *Entry, created bool)) error {
	sh := &s.shards[s.shardIndex(key)]
	now := s.clock.Now()

	sh.mu.Lock()
	e, expired := s.lookupLocked(sh, key, now)
	created := false
	if e == nil {
		if !s.reserve() {
			sh.mu.Unlock()
			s.reportExpired(expired)
			return ErrTableFull
		}
		e = &Entry{Key: key, State: model.Tracking}
		sh.entries[key] = e
		created = true
	}
	fn(e, created)
	sh.mu.Unlock()

	s.reportExpired(expired)
	return nil
}

// reserve claims a slot for a new entry. Inserts into different shards
// race on the counter, so the claim is a compare-and-swap.
func (s *Store) reserve() bool {
	if s.maxEntries <= 0 {
		s.count.Add(1)
		return true
	}
	for {
		n := s.count.Load()
		if n >= s.maxEntries {
			return false
		}
		if s.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// lookupLocked returns the live entry for key. An entry found past its
// deadline is evicted and returned as expired instead.
func (s *Store) lookupLocked(sh *shard, key model.CrashKey, now time.Time) (*Entry, []model.EntryInfo) {
	e, ok := sh.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expired(now) {
		return nil, []model.EntryInfo{s.evictLocked(sh, e)}
	}
	return e, nil
}

func (s *Store) evictLocked(sh *shard, e *Entry) model.EntryInfo {
	delete(sh.entries, e.Key)
	s.count.Add(-1)
	return e.Info()
}

// Sweep evicts every entry whose deadline is at or before now and returns
// how many were removed.
func (s *Store) Sweep(now time.Time) int {
	var expired []model.EntryInfo
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			if e.expired(now) {
				expired = append(expired, s.evictLocked(sh, e))
			}
		}
		sh.mu.Unlock()
	}
	s.reportExpired(expired)
	return len(expired)
}

func (s *Store) reportExpired(infos []model.EntryInfo) {
	for _, info := range infos {
		s.logger.Info("crash entry expired and removed",
			"inode", info.Key.Inode,
			"mount_id", info.Key.MountID,
			"uid", info.Key.UID,
			"crashes", info.Crashes,
			"state", string(info.State))
		if s.onExpire != nil {
			s.onExpire(info)
		}
	}
}

// Snapshot returns copies of all live entries ordered by deadline.
func (s *Store) Snapshot() []model.EntryInfo {
	now := s.clock.Now()
	var out []model.EntryInfo
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			if !e.expired(now) {
				out = append(out, e.Info())
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}
