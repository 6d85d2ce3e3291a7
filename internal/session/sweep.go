package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"asset-register/backend/internal/refreshtoken"
	"asset-register/backend/internal/session/repository"
)

const sweepLeaseKey = "asset-register:session-sweep"

// SweepOptions bound one sweep run.
type SweepOptions struct {
	BatchSize int
	Timeout   time.Duration
	// Retention is how long terminal sessions and dead refresh tokens are kept.
	Retention time.Duration
}

// SweepResult reports what a sweep did. Skipped is set when another process
// held the lease.
type SweepResult struct {
	Expired        int64
	PurgedSessions int64
	PurgedTokens   int64
	Skipped        bool
	Duration       time.Duration
}

// Sweeper moves overdue active sessions to expired and purges old rows. Runs
// never overlap: callers in this process share one in-flight run, and the
// optional lease excludes other processes.
type Sweeper struct {
	repo     repository.Repository
	refresh  *refreshtoken.Store
	lease    Lease
	opts     SweepOptions
	log      *zap.Logger
	now      func() time.Time
	group    singleflight.Group
	observer func(SweepResult, error)
}

// NewSweeper returns a Sweeper. lease may be nil for single-instance deployments.
func NewSweeper(repo repository.Repository, refresh *refreshtoken.Store, lease Lease, opts SweepOptions, log *zap.Logger) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{repo: repo, refresh: refresh, lease: lease, opts: opts, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// OnComplete registers fn to be called after every run.
func (s *Sweeper) OnComplete(fn func(SweepResult, error)) *Sweeper {
	s.observer = fn
	return s
}

// Sweep runs one sweep, or joins the one already in flight. The run itself is
// bounded by the configured timeout rather than by ctx; ctx only bounds how
// long this caller waits.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ch := s.group.DoChan("sweep", func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()
		res, err := s.run(runCtx)
		if s.observer != nil {
			s.observer(res, err)
		}
		return res, err
	})
	select {
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(SweepResult)
		return res, r.Err
	}
}

func (s *Sweeper) run(ctx context.Context) (res SweepResult, err error) {
	start := s.now()
	defer func() { res.Duration = s.now().Sub(start) }()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx, sweepLeaseKey, s.opts.Timeout)
		if err != nil {
			return res, err
		}
		if !ok {
			s.log.Info("session sweep skipped, lease held elsewhere")
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				s.log.Warn("release sweep lease", zap.Error(rerr))
			}
		}()
	}

	now := s.now().UTC()
	res.Expired, err = s.batches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.ExpireBatch(ctx, now, s.opts.BatchSize)
	})
	if err != nil {
		return res, err
	}
	cutoff := now.Add(-s.opts.Retention)
	res.PurgedSessions, err = s.batches(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.PurgeBefore(ctx, cutoff, s.opts.BatchSize)
	})
	if err != nil {
		return res, err
	}
	if s.refresh != nil {
		res.PurgedTokens, err = s.batches(ctx, func(ctx context.Context) (int64, error) {
			return s.refresh.Purge(ctx, cutoff, s.opts.BatchSize)
		})
		if err != nil {
			return res, err
		}
	}
	s.log.Info("session sweep complete",
		zap.Int64("expired", res.Expired),
		zap.Int64("purged_sessions", res.PurgedSessions),
		zap.Int64("purged_tokens", res.PurgedTokens))
	return res, nil
}

// batches calls step until it returns a short batch. A deadline hit between
// batches ends the run with the work done so far.
func (s *Sweeper) batches(ctx context.Context, step func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := step(ctx)
		total += n
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Warn("session sweep timed out", zap.Int64("done", total))
			}
			return total, err
		}
		if n < int64(s.opts.BatchSize) {
			return total, nil
		}
	}
}
