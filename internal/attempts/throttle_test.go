package attempts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordFailure_Thresholds(t *testing.T) {
	th := NewThrottle(NewMemoryStore(), Config{})
	ctx := context.Background()

	var res Result
	for i := 1; i <= 2; i++ {
		res = th.RecordFailure(ctx, "1.2.3.4", "a@b.c")
		require.Equal(t, i, res.AttemptCount)
		require.False(t, res.RequiresCaptcha)
		require.False(t, res.IsBlocked)
	}

	res = th.RecordFailure(ctx, "1.2.3.4", "a@b.c")
	require.Equal(t, 3, res.AttemptCount)
	require.True(t, res.RequiresCaptcha)
	require.False(t, res.IsBlocked)

	th.RecordFailure(ctx, "1.2.3.4", "a@b.c")
	res = th.RecordFailure(ctx, "1.2.3.4", "a@b.c")
	require.Equal(t, 5, res.AttemptCount)
	require.True(t, res.RequiresCaptcha)
	require.True(t, res.IsBlocked)
}

func TestRecordFailure_AddressIsolation(t *testing.T) {
	th := NewThrottle(NewMemoryStore(), Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		th.RecordFailure(ctx, "1.2.3.4", "")
	}
	res := th.RecordFailure(ctx, "5.6.7.8", "")
	require.Equal(t, 1, res.AttemptCount)
	require.False(t, res.IsBlocked)
}

func TestInspect_FirstAttemptAtStamped(t *testing.T) {
	th := NewThrottle(NewMemoryStore(), Config{})
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	th.RecordFailure(ctx, "9.9.9.9", "")
	res := th.Inspect(ctx, "9.9.9.9")
	require.Equal(t, 1, res.AttemptCount)
	require.NotNil(t, res.FirstAttemptAt)
	require.True(t, res.FirstAttemptAt.After(before))
}

func TestInspect_ExpiredRecordReadsAsZero(t *testing.T) {
	store := NewMemoryStore()
	th := NewThrottle(store, Config{Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		th.RecordFailure(ctx, "1.2.3.4", "")
	}
	// age the record past the window
	store.mu.Lock()
	store.records["1.2.3.4"].LastAttemptAt = time.Now().UTC().Add(-16 * time.Minute)
	store.mu.Unlock()

	res := th.Inspect(ctx, "1.2.3.4")
	require.Equal(t, 0, res.AttemptCount)
	require.False(t, res.RequiresCaptcha)
	require.False(t, res.IsBlocked)
}

func TestRecordFailure_ExpiredWindowRestartsAtOne(t *testing.T) {
	store := NewMemoryStore()
	th := NewThrottle(store, Config{Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		th.RecordFailure(ctx, "1.2.3.4", "")
	}
	store.mu.Lock()
	store.records["1.2.3.4"].LastAttemptAt = time.Now().UTC().Add(-16 * time.Minute)
	store.mu.Unlock()

	res := th.RecordFailure(ctx, "1.2.3.4", "")
	require.Equal(t, 1, res.AttemptCount)
	require.False(t, res.IsBlocked)
}

func TestReset(t *testing.T) {
	th := NewThrottle(NewMemoryStore(), Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		th.RecordFailure(ctx, "1.2.3.4", "")
	}
	require.NoError(t, th.Reset(ctx, "1.2.3.4"))

	res := th.Inspect(ctx, "1.2.3.4")
	require.Equal(t, 0, res.AttemptCount)
}

func TestSweep(t *testing.T) {
	store := NewMemoryStore()
	th := NewThrottle(store, Config{Window: 15 * time.Minute})
	ctx := context.Background()

	th.RecordFailure(ctx, "old", "")
	th.RecordFailure(ctx, "fresh", "")
	store.mu.Lock()
	store.records["old"].LastAttemptAt = time.Now().UTC().Add(-time.Hour)
	store.mu.Unlock()

	deleted, err := th.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	// idempotent
	deleted, err = th.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, deleted)

	require.Equal(t, 1, th.Inspect(ctx, "fresh").AttemptCount)
}

// brokenStore simulates a storage outage on every operation.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Increment(ctx context.Context, ip, email string, staleBefore time.Time) (*Record, error) {
	return nil, errStoreDown
}
func (brokenStore) Get(ctx context.Context, ip string) (*Record, error) { return nil, errStoreDown }
func (brokenStore) Delete(ctx context.Context, ip string) error         { return errStoreDown }
func (brokenStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errStoreDown
}

func TestStorageFailure_FailOpen(t *testing.T) {
	th := NewThrottle(brokenStore{}, Config{})
	ctx := context.Background()

	res := th.RecordFailure(ctx, "1.2.3.4", "")
	require.Equal(t, 0, res.AttemptCount)
	require.False(t, res.IsBlocked)

	res = th.Inspect(ctx, "1.2.3.4")
	require.False(t, res.IsBlocked)
}

func TestStorageFailure_FailClosed(t *testing.T) {
	th := NewThrottle(brokenStore{}, Config{FailClosed: true})
	ctx := context.Background()

	res := th.RecordFailure(ctx, "1.2.3.4", "")
	require.True(t, res.IsBlocked)
	require.True(t, res.RequiresCaptcha)

	res = th.Inspect(ctx, "1.2.3.4")
	require.True(t, res.IsBlocked)
}
