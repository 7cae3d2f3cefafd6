package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for tests and dev runs.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[string]*Session{}}
}

func (r *MemoryRepository) Insert(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = now
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsValid {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) GetLatestByUserID(ctx context.Context, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Session
	for _, s := range r.sessions {
		if s.UserID != userID || !s.IsValid {
			continue
		}
		if latest == nil || s.LastUsedAt.After(latest.LastUsedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *MemoryRepository) ListByUserID(ctx context.Context, userID string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsValid {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateTokens(ctx context.Context, id, accessEnc, refreshEnc string, expiresAt int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsValid {
		return nil
	}
	s.AccessTokenEnc = accessEnc
	s.RefreshTokenEnc = refreshEnc
	s.ExpiresAt = expiresAt
	s.LastUsedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) TouchLastUsed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastUsedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.IsValid = false
	}
	return nil
}

func (r *MemoryRepository) InvalidateAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID && s.IsValid && id != exceptID {
			s.IsValid = false
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.LastUsedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountByValidity(ctx context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var valid, invalid int64
	for _, s := range r.sessions {
		if s.IsValid {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid, nil
}
