package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/talentbase/backend/internal/crypto"
	"github.com/talentbase/backend/internal/upstream"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
)

// TokenRefresher is the slice of the upstream identity provider the
// session store depends on.
type TokenRefresher interface {
	RefreshTokenPair(ctx context.Context, refreshToken string) (*upstream.TokenPair, error)
}

// DefaultRefreshMargin is how long before upstream expiry a session is
// renewed proactively.
const DefaultRefreshMargin = 5 * time.Minute

// CreateParams is what a successful login hands to Create.
type CreateParams struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	UserAgent    string
	IPAddress    string
}

// Service owns the session lifecycle: no other component constructs or
// persists Session rows. Safe for concurrent use across goroutines and,
// by way of whole-triple token updates, across server instances
// (last-writer-wins on concurrent refresh; ciphertext is never partially
// written).
type Service struct {
	repo      Repository
	enc       *crypto.Encryptor
	refresher TokenRefresher
	margin    time.Duration
}

func NewService(repo Repository, enc *crypto.Encryptor, refresher TokenRefresher, margin time.Duration) *Service {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &Service{repo: repo, enc: enc, refresher: refresher, margin: margin}
}

// Create encrypts the upstream pair and persists a new session, returning
// its fresh random identifier.
func (s *Service) Create(ctx context.Context, p CreateParams) (string, error) {
	accessEnc, err := s.enc.Encrypt(p.AccessToken)
	if err != nil {
		return "", err
	}
	refreshEnc, err := s.enc.Encrypt(p.RefreshToken)
	if err != nil {
		return "", err
	}

	sess := &Session{
		ID:              crypto.NewSessionID(),
		UserID:          p.UserID,
		Email:           p.Email,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       p.ExpiresAt,
		UserAgent:       p.UserAgent,
		IPAddress:       p.IPAddress,
		IsValid:         true,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return "", err
	}
	logger.Infof("sessions: created %s for user %s", sess.ID, p.UserID)
	return sess.ID, nil
}

// decryptSession turns a stored row into a LiveSession. A decrypt failure
// (corrupted row, rotated key, tampering) makes the session unusable and
// is reported as absent, never as an error to the request pipeline.
func (s *Service) decryptSession(row *Session) *LiveSession {
	access, errA := s.enc.Decrypt(row.AccessTokenEnc)
	refresh, errR := s.enc.Decrypt(row.RefreshTokenEnc)
	if errA != nil || errR != nil {
		metrics.DecryptFailures.Inc()
		logger.Errorf("sessions: stored credentials for %s failed decryption (key rotation or tampering?)", row.ID)
		return nil
	}
	return &LiveSession{
		ID:           row.ID,
		UserID:       row.UserID,
		Email:        row.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
		LastUsedAt:   row.LastUsedAt,
		UserAgent:    row.UserAgent,
		IPAddress:    row.IPAddress,
	}
}

// GetByID returns the decrypted session if present and valid. It does not
// check expiry; the refresh layer decides what an expired row means.
func (s *Service) GetByID(ctx context.Context, id string) (*LiveSession, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	live := s.decryptSession(row)
	if live == nil {
		return nil, nil
	}
	if err := s.repo.TouchLastUsed(ctx, id); err != nil {
		logger.Warnf("sessions: touch %s failed: %v", id, err)
	}
	return live, nil
}

// RefreshIfNeeded resolves a session by id and renews the upstream pair
// when it is within the refresh margin of expiry. Absent, invalidated or
// unrefreshable sessions all come back nil.
func (s *Service) RefreshIfNeeded(ctx context.Context, id string) (*LiveSession, error) {
	live, err := s.GetByID(ctx, id)
	if err != nil || live == nil {
		return nil, err
	}
	return s.refresh(ctx, live)
}

// RefreshForUser is RefreshIfNeeded keyed by user id, resolving the most
// recently used valid session (first-party token flow: the JWT carries
// identity, not a session id).
func (s *Service) RefreshForUser(ctx context.Context, userID string) (*LiveSession, error) {
	row, err := s.repo.GetLatestByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	live := s.decryptSession(row)
	if live == nil {
		return nil, nil
	}
	return s.refresh(ctx, live)
}

func (s *Service) refresh(ctx context.Context, live *LiveSession) (*LiveSession, error) {
	now := time.Now().Unix()
	if live.ExpiresAt-int64(s.margin.Seconds()) > now {
		metrics.SessionRefreshes.WithLabelValues("hit").Inc()
		return live, nil
	}

	pair, err := s.refresher.RefreshTokenPair(ctx, live.RefreshToken)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			// The refresh token is dead upstream; this session can never be
			// refreshed again.
			metrics.SessionRefreshes.WithLabelValues("failed").Inc()
			logger.Warnf("sessions: upstream rejected refresh for %s, invalidating", live.ID)
			if ierr := s.repo.Invalidate(ctx, live.ID); ierr != nil {
				logger.Errorf("sessions: invalidate %s failed: %v", live.ID, ierr)
			}
			return nil, nil
		}
		// Transient upstream failure (timeout, 5xx): the current pair stays
		// usable until its hard expiry. No synchronous retry.
		logger.Warnf("sessions: refresh for %s failed transiently: %v", live.ID, err)
		if live.ExpiresAt > now {
			return live, nil
		}
		return nil, nil
	}

	accessEnc, err := s.enc.Encrypt(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshEnc, err := s.enc.Encrypt(pair.RefreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTokens(ctx, live.ID, accessEnc, refreshEnc, pair.ExpiresAt); err != nil {
		return nil, err
	}
	metrics.SessionRefreshes.WithLabelValues("refreshed").Inc()
	logger.Infof("sessions: refreshed %s", live.ID)

	live.AccessToken = pair.AccessToken
	live.RefreshToken = pair.RefreshToken
	live.ExpiresAt = pair.ExpiresAt
	return live, nil
}

// Invalidate kills a session permanently. Irreversible: the row is flag-
// flipped, not deleted, so the identifier can never be resurrected.
func (s *Service) Invalidate(ctx context.Context, id string) error {
	if err := s.repo.Invalidate(ctx, id); err != nil {
		return err
	}
	logger.Infof("sessions: invalidated %s", id)
	return nil
}

// InvalidateAllForUser logs out every session of a user except exceptID
// (pass "" to kill all).
func (s *Service) InvalidateAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	n, err := s.repo.InvalidateAllForUser(ctx, userID, exceptID)
	if err != nil {
		return 0, err
	}
	logger.Infof("sessions: invalidated %d sessions for user %s", n, userID)
	return n, nil
}

// ListForUser returns the token-free view of a user's active sessions.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Info, error) {
	rows, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.info())
	}
	return out, nil
}

// Stats reports active/invalid counts for monitoring.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	valid, invalid, err := s.repo.CountByValidity(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalActive: valid, TotalInvalid: invalid}, nil
}

// Cleanup deletes sessions idle longer than inactiveFor.
func (s *Service) Cleanup(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	return s.repo.DeleteInactiveSince(ctx, time.Now().UTC().Add(-inactiveFor))
}
