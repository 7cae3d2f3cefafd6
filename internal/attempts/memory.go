package attempts

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-instance dev
// runs. Mutex-guarded; Increment is atomic.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (s *MemoryStore) Increment(ctx context.Context, ip, email string, staleBefore time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := s.records[ip]
	if ok && rec.LastAttemptAt.Before(staleBefore) {
		delete(s.records, ip)
		ok = false
	}
	if !ok {
		rec = &Record{IPAddress: ip, FirstAttemptAt: now}
		s.records[ip] = rec
	}
	rec.AttemptCount++
	rec.LastAttemptAt = now
	rec.Email = email

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Get(ctx context.Context, ip string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ip]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ip)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for ip, rec := range s.records {
		if rec.LastAttemptAt.Before(cutoff) {
			delete(s.records, ip)
			deleted++
		}
	}
	return deleted, nil
}
