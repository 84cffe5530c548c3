package session

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// MemoryBackend keeps sessions in process memory. Sessions are spread over
// shards to reduce lock contention, and read-modify-write on one id is
// serialized by a per-key lock.
type MemoryBackend struct {
	shards [shardCount]*shard
	locks  *keyLocks
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{locks: newKeyLocks()}
	for i := range b.shards {
		b.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return b
}

func (b *MemoryBackend) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return b.shards[h.Sum32()%shardCount]
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, s *Session) error {
	unlock := b.locks.lock(s.ID)
	defer unlock()

	sh := b.shardFor(s.ID)
	sh.mu.Lock()
	sh.sessions[s.ID] = s.Clone()
	sh.mu.Unlock()
	return nil
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, id string) (*Session, error) {
	sh := b.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.sessions[id].Clone(), nil
}

// Mutate implements Backend.
func (b *MemoryBackend) Mutate(_ context.Context, id string, fn MutateFunc) (bool, error) {
	unlock := b.locks.lock(id)
	defer unlock()

	sh := b.shardFor(id)
	sh.mu.RLock()
	current, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return false, nil
	}

	working := current.Clone()
	switch fn(working) {
	case ActionSave:
		sh.mu.Lock()
		sh.sessions[id] = working
		sh.mu.Unlock()
	case ActionDelete:
		sh.mu.Lock()
		delete(sh.sessions, id)
		sh.mu.Unlock()
	}
	return true, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	unlock := b.locks.lock(id)
	defer unlock()

	sh := b.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.sessions[id]
	delete(sh.sessions, id)
	return ok, nil
}

// List implements Backend.
func (b *MemoryBackend) List(_ context.Context) ([]*Session, error) {
	var out []*Session
	for _, sh := range b.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, s.Clone())
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	return nil
}

// keyLocks is a pool of mutexes keyed by session id. Entries are reference
// counted and dropped when no goroutine holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(id string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live key locks.
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
