package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicedomain "asset-register/backend/internal/device/domain"
	"asset-register/backend/internal/session/repository"
)

func TestSweeper_ExpiresAndPurges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, user := range []string{"u1", "u2", "u3"} {
		_, err := f.mgr.Establish(ctx, user, time.Duration(i+1)*time.Hour, devicedomain.Info{ID: "D-" + user})
		require.NoError(t, err)
	}

	f.now = f.now.Add(150 * time.Minute)
	sw := NewSweeper(f.repo, f.store, nil, SweepOptions{BatchSize: 1, Retention: 24 * time.Hour}, nil).
		WithClock(func() time.Time { return f.now })
	res, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Expired, "u1 and u2 are past expiry")
	assert.Zero(t, res.PurgedSessions)

	active, _ := f.repo.ListActiveByUser(ctx, "u3")
	assert.Len(t, active, 1)

	f.now = f.now.Add(48 * time.Hour)
	res, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Expired)
	assert.EqualValues(t, 3, res.PurgedSessions)
}

func TestSweeper_SkipsWhenLeaseHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(sweepLeaseKey, "someone-else"))

	f := newFixture(t)
	sw := NewSweeper(f.repo, f.store, NewRedisLease(client), SweepOptions{}, nil)
	res, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	mr.Del(sweepLeaseKey)
	res, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, mr.Exists(sweepLeaseKey), "lease released after run")
}

func TestRedisLease_ReleaseKeepsForeignHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	lease := NewRedisLease(client)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = lease.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = lease.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "lapsed lease is taken over")

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("k"), "stale holder must not delete the new lease")
}

type blockingRepo struct {
	repository.Repository
	calls   atomic.Int32
	started chan struct{}
	unblock chan struct{}
}

func (b *blockingRepo) ExpireBatch(ctx context.Context, now time.Time, limit int) (int64, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.unblock
	return 0, nil
}

func (b *blockingRepo) PurgeBefore(context.Context, time.Time, int) (int64, error) { return 0, nil }

func TestSweeper_ConcurrentCallersShareRun(t *testing.T) {
	repo := &blockingRepo{started: make(chan struct{}), unblock: make(chan struct{})}
	var observed atomic.Int32
	sw := NewSweeper(repo, nil, nil, SweepOptions{}, nil).
		OnComplete(func(SweepResult, error) { observed.Add(1) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = sw.Sweep(context.Background())
	}()
	<-repo.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = sw.Sweep(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(repo.unblock)
	wg.Wait()

	assert.EqualValues(t, 1, repo.calls.Load())
	assert.EqualValues(t, 1, observed.Load())
}

func TestSweeper_CallerContextCancelled(t *testing.T) {
	repo := &blockingRepo{started: make(chan struct{}), unblock: make(chan struct{})}
	defer close(repo.unblock)
	sw := NewSweeper(repo, nil, nil, SweepOptions{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-repo.started
		cancel()
	}()
	_, err := sw.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
