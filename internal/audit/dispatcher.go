package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"asset-register/backend/internal/audit/domain"
)

// exportTimeout bounds a single sink export.
const exportTimeout = 5 * time.Second

// DefaultBufferSize is used when NewDispatcher is given a non-positive size.
const DefaultBufferSize = 1024

// Sink exports signed records to an external system.
type Sink interface {
	Name() string
	Export(ctx context.Context, rec *domain.Record) error
	Close() error
}

// Dispatcher fans signed records out to sinks from a single background
// goroutine. Publish never blocks: when the buffer is full the record is
// dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	queue   chan domain.Record
	log     *zap.Logger
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher over sinks. Call Close to drain and stop.
func NewDispatcher(sinks []Sink, size int, log *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan domain.Record, size),
		log:   log,
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues rec for export.
func (d *Dispatcher) Publish(rec domain.Record) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- rec:
	default:
		d.dropped.Add(1)
		d.log.Warn("audit export buffer full, record dropped", zap.String("audit_id", rec.ID))
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Failed returns how many sink exports returned an error.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)
	for rec := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
			if err := s.Export(ctx, &rec); err != nil {
				d.failed.Add(1)
				d.log.Warn("audit export failed", zap.String("sink", s.Name()), zap.String("audit_id", rec.ID), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting records, drains the queue until ctx is done and then
// closes every sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, s := range d.sinks {
		if cerr := s.Close(); cerr != nil {
			d.log.Warn("audit sink close failed", zap.String("sink", s.Name()), zap.Error(cerr))
		}
	}
	return err
}
