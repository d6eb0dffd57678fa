package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsRefresh(t *testing.T) {
	base := time.Unix(10_000, 0)

	tests := []struct {
		name string
		meta Meta
		now  time.Time
		want bool
	}{
		{"ok without recheck", Meta{OK: true}, base, false},
		{"ok before recheck", Meta{OK: true, NextRecheck: base.Add(time.Second)}, base, false},
		{"ok at recheck", Meta{OK: true, NextRecheck: base}, base, true},
		{"ok after recheck", Meta{OK: true, NextRecheck: base}, base.Add(time.Second), true},
		{"failed without backoff", Meta{OK: false}, base, true},
		{"failed inside backoff", Meta{OK: false, NextRecheck: base.Add(10 * time.Second)}, base.Add(5 * time.Second), false},
		{"failed after backoff", Meta{OK: false, NextRecheck: base.Add(10 * time.Second)}, base.Add(11 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRefresh(tt.meta, tt.now))
		})
	}
}

func TestPolicyStamps(t *testing.T) {
	now := time.Unix(500, 0)
	p := Policy{CacheTTL: 30 * time.Second, RetryDelay: 10 * time.Second}

	ok := p.Success(now)
	assert.True(t, ok.OK)
	assert.Empty(t, ok.Log)
	assert.Equal(t, now.Add(30*time.Second), ok.NextRecheck)

	failed := p.Failure(now, errors.New("connection refused"))
	assert.False(t, failed.OK)
	assert.Equal(t, "connection refused", failed.Log)
	assert.Equal(t, now.Add(10*time.Second), failed.NextRecheck)

	forever := Policy{}.Success(now)
	assert.True(t, forever.NextRecheck.IsZero())
}

func TestRefreshIsIdempotentUntilRecheck(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{CacheTTL: 30 * time.Second, RetryDelay: 10 * time.Second}
	now := time.Unix(1000, 0)

	calls := 0
	fetch := func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		calls++
		return "contest", nil
	}

	assert.True(t, Refresh(context.Background(), slot, policy, now, fetch))
	for i := 0; i < 5; i++ {
		assert.False(t, Refresh(context.Background(), slot, policy, now.Add(29*time.Second), fetch))
	}
	assert.Equal(t, 1, calls)

	assert.True(t, Refresh(context.Background(), slot, policy, now.Add(30*time.Second), fetch))
	assert.Equal(t, 2, calls)
}

func TestRefreshBackoffAfterFailure(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{CacheTTL: 30 * time.Second, RetryDelay: 10 * time.Second}
	t0 := time.Unix(2000, 0)

	failing := func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		return "", errors.New("server unavailable")
	}
	require.True(t, Refresh(context.Background(), slot, policy, t0, failing))

	snap := slot.Acquire()
	assert.False(t, snap.OK)
	assert.Equal(t, "server unavailable", snap.Log)
	assert.Equal(t, t0.Add(10*time.Second), snap.NextRecheck)
	snap.Release()

	calls := 0
	fetch := func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		calls++
		return "ok", nil
	}

	assert.False(t, Refresh(context.Background(), slot, policy, t0.Add(5*time.Second), fetch), "still in backoff")
	assert.True(t, Refresh(context.Background(), slot, policy, t0.Add(11*time.Second), fetch))
	assert.Equal(t, 1, calls)

	snap = slot.Acquire()
	defer snap.Release()
	assert.True(t, snap.OK)
	assert.Equal(t, "ok", snap.Value)
}

func TestRefreshPassesPreviousSnapshot(t *testing.T) {
	slot := NewSlot[int]()
	policy := Policy{CacheTTL: time.Second}
	now := time.Unix(0, 0)

	inc := func(ctx context.Context, prev *Snapshot[int]) (int, error) {
		return prev.Value + 1, nil
	}
	for i := 0; i < 3; i++ {
		require.True(t, Refresh(context.Background(), slot, policy, now.Add(time.Duration(i)*time.Second), inc))
	}

	snap := slot.Acquire()
	defer snap.Release()
	assert.Equal(t, 3, snap.Value)
	assert.Equal(t, uint64(3), snap.Version)
}

type judged struct {
	final bool
}

func (j judged) Settled() bool { return j.final }

func TestRefreshSettledValueNeverRechecks(t *testing.T) {
	slot := NewSlot[judged]()
	policy := Policy{CacheTTL: time.Second, RetryDelay: time.Second}
	now := time.Unix(0, 0)

	require.True(t, Refresh(context.Background(), slot, policy, now, func(ctx context.Context, prev *Snapshot[judged]) (judged, error) {
		return judged{final: false}, nil
	}))
	snap := slot.Acquire()
	assert.False(t, snap.NextRecheck.IsZero())
	snap.Release()

	require.True(t, Refresh(context.Background(), slot, policy, now.Add(time.Second), func(ctx context.Context, prev *Snapshot[judged]) (judged, error) {
		return judged{final: true}, nil
	}))
	snap = slot.Acquire()
	defer snap.Release()
	assert.True(t, snap.NextRecheck.IsZero())
	assert.False(t, NeedsRefresh(snap.Meta, now.Add(time.Hour)))
}

func TestRefreshRecoversPanickingFetch(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{RetryDelay: time.Second}

	require.True(t, Refresh(context.Background(), slot, policy, time.Unix(0, 0), func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		panic("boom")
	}))

	assert.False(t, slot.Writing())
	snap := slot.Acquire()
	defer snap.Release()
	assert.False(t, snap.OK)
	assert.Contains(t, snap.Log, "boom")
}

func TestRefreshConcurrentCallersFetchOnce(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{CacheTTL: time.Minute}
	now := time.Unix(0, 0)

	var calls atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		calls.Add(1)
		<-release
		return "info", nil
	}

	var wg sync.WaitGroup
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		Refresh(context.Background(), slot, policy, now, fetch)
	}()
	<-started

	// Wait until the first caller holds the claim.
	require.Eventually(t, slot.Writing, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		assert.False(t, Refresh(context.Background(), slot, policy, now, fetch))
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestExpireForcesRefresh(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{CacheTTL: time.Hour, RetryDelay: time.Second}
	now := time.Unix(20_000, 0)

	fetches := 0
	fetch := func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		fetches++
		return "log", nil
	}

	require.True(t, Refresh(context.Background(), slot, policy, now, fetch))
	require.False(t, Refresh(context.Background(), slot, policy, now.Add(time.Minute), fetch))

	require.True(t, Expire(slot, now.Add(time.Minute)))
	snap := slot.Acquire()
	assert.Equal(t, "log", snap.Value, "expired snapshot keeps serving the old value")
	assert.True(t, snap.OK)
	snap.Release()

	require.True(t, Refresh(context.Background(), slot, policy, now.Add(time.Minute), fetch))
	assert.Equal(t, 2, fetches)
}

func TestExpireYieldsToWriter(t *testing.T) {
	slot := NewSlot[int]()
	require.True(t, slot.TryBeginWrite())
	assert.False(t, Expire(slot, time.Now()))
	slot.Publish(New(Meta{OK: true}, 1))
}

func TestFailedRefreshKeepsLastGoodValue(t *testing.T) {
	slot := NewSlot[string]()
	policy := Policy{CacheTTL: time.Second, RetryDelay: time.Second}
	now := time.Unix(0, 0)

	require.True(t, Refresh(context.Background(), slot, policy, now, func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		return "", errors.New("down")
	}))
	snap := slot.Acquire()
	assert.False(t, snap.Populated)
	snap.Release()

	require.True(t, Refresh(context.Background(), slot, policy, now.Add(time.Second), func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		return "v1", nil
	}))
	require.True(t, Refresh(context.Background(), slot, policy, now.Add(2*time.Second), func(ctx context.Context, prev *Snapshot[string]) (string, error) {
		return "", errors.New("down again")
	}))

	snap = slot.Acquire()
	defer snap.Release()
	assert.False(t, snap.OK)
	assert.True(t, snap.Populated)
	assert.Equal(t, "v1", snap.Value)
	assert.Equal(t, "down again", snap.Log)
}

func TestRefreshSkippedLeavesSlotUntouched(t *testing.T) {
	slot := NewSlot[int]()
	policy := Policy{CacheTTL: time.Second, RetryDelay: 10 * time.Second}
	now := time.Unix(0, 0)

	skipped := Refresh(context.Background(), slot, policy, now, func(ctx context.Context, prev *Snapshot[int]) (int, error) {
		return 0, fmt.Errorf("login in progress: %w", ErrSkipped)
	})
	assert.False(t, skipped)
	assert.False(t, slot.Writing())

	snap := slot.Acquire()
	assert.Equal(t, uint64(0), snap.Version)
	assert.True(t, snap.NextRecheck.IsZero())
	snap.Release()

	require.True(t, Refresh(context.Background(), slot, policy, now, func(ctx context.Context, prev *Snapshot[int]) (int, error) {
		return 3, nil
	}))
	snap = slot.Acquire()
	defer snap.Release()
	assert.True(t, snap.OK)
	assert.Equal(t, 3, snap.Value)
}
