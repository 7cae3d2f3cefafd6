package attempts

import (
	"context"
	"time"

	"github.com/talentbase/backend/pkg/logger"
)

// Throttle counts failed authentication attempts per origin address inside
// a sliding window and exposes the CAPTCHA and block thresholds.
//
// Storage failures never propagate to the login path: by default the
// throttle fails open (zero count), because the hard block is also enforced
// by the stateless rate limiter mounted in front of the route. Deployments
// where this counter is the primary control can set FailClosed.
type Throttle struct {
	store Store
	cfg   Config
}

func NewThrottle(store Store, cfg Config) *Throttle {
	return &Throttle{store: store, cfg: cfg.withDefaults()}
}

func (t *Throttle) result(rec *Record) Result {
	if rec == nil {
		return Result{}
	}
	res := Result{
		AttemptCount:    rec.AttemptCount,
		RequiresCaptcha: rec.AttemptCount >= t.cfg.CaptchaThreshold,
		IsBlocked:       rec.AttemptCount >= t.cfg.BlockThreshold,
	}
	if !rec.FirstAttemptAt.IsZero() {
		first := rec.FirstAttemptAt
		res.FirstAttemptAt = &first
	}
	return res
}

func (t *Throttle) degraded() Result {
	if t.cfg.FailClosed {
		return Result{RequiresCaptcha: true, IsBlocked: true}
	}
	return Result{}
}

// RecordFailure atomically counts one failed attempt for the address.
// Never returns an error to the caller.
func (t *Throttle) RecordFailure(ctx context.Context, ip, email string) Result {
	staleBefore := time.Now().UTC().Add(-t.cfg.Window)
	rec, err := t.store.Increment(ctx, ip, email, staleBefore)
	if err != nil {
		logger.Errorf("attempts: increment failed for %s: %v", ip, err)
		return t.degraded()
	}
	return t.result(rec)
}

// Inspect reads the current state for the address, opportunistically
// sweeping expired records first so repeated reads self-heal without a
// separate cron.
func (t *Throttle) Inspect(ctx context.Context, ip string) Result {
	cutoff := time.Now().UTC().Add(-t.cfg.Window)
	if _, err := t.store.DeleteOlderThan(ctx, cutoff); err != nil {
		logger.Warnf("attempts: sweep before inspect failed: %v", err)
	}

	rec, err := t.store.Get(ctx, ip)
	if err != nil {
		logger.Errorf("attempts: inspect failed for %s: %v", ip, err)
		return t.degraded()
	}
	// A physically present but expired record counts as zero.
	if rec != nil && rec.LastAttemptAt.Before(cutoff) {
		return Result{}
	}
	return t.result(rec)
}

// Reset clears the address after a successful authentication.
func (t *Throttle) Reset(ctx context.Context, ip string) error {
	return t.store.Delete(ctx, ip)
}

// Sweep deletes every record older than the window. Idempotent and safe to
// call concurrently from multiple instances.
func (t *Throttle) Sweep(ctx context.Context) (int64, error) {
	return t.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-t.cfg.Window))
}
