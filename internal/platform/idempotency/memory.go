package idempotency

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the number of live keys a MemoryStore holds.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps reservations in process memory for tests and single-instance local runs.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	capacity int
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryCapacity overrides DefaultMemoryCapacity. Zero or less means unbounded.
func WithMemoryCapacity(n int) MemoryOption {
	return func(s *MemoryStore) { s.capacity = n }
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: make(map[string]Record), capacity: DefaultMemoryCapacity}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), orDefaultTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.records[id]
	res, write, err := reserve(existing, found, key, fingerprint, now, ttl)
	if err != nil || !write {
		return res, err
	}
	if !found && s.full(now) {
		return Reservation{}, wrapStoreError("idempotency.reserve", ErrStoreFull)
	}
	s.records[id] = res.Record
	return res, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), orDefaultTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.records[id]
	switch {
	case found && record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	case !found:
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	s.records[id] = completeRecord(record, resp, now, ttl)
	return nil
}

// CleanupExpired removes up to limit expired records, oldest expiry first.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id        string
		expiresAt time.Time
	}
	var expired []candidate
	for id, record := range s.records {
		if record.expired(now) {
			expired = append(expired, candidate{id: id, expiresAt: record.ExpiresAt})
		}
	}
	slices.SortFunc(expired, func(a, b candidate) int { return a.expiresAt.Compare(b.expiresAt) })
	if limit > 0 {
		expired = expired[:min(limit, len(expired))]
	}
	for _, c := range expired {
		delete(s.records, c.id)
	}
	return len(expired), nil
}

// Release drops a reservation held with fingerprint so the key can be retried.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := documentID(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// Len returns the number of records held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// full reports whether a new key would exceed capacity once expired records are discounted.
func (s *MemoryStore) full(now time.Time) bool {
	if s.capacity <= 0 || len(s.records) < s.capacity {
		return false
	}
	live := 0
	for _, record := range s.records {
		if !record.expired(now) {
			live++
		}
	}
	return live >= s.capacity
}

func orDefaultTTL(ttl time.Duration) time.Duration {
	return cmp.Or(max(ttl, 0), DefaultTTL)
}
