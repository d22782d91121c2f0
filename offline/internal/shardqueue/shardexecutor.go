// Package shardqueue runs sync jobs on worker goroutines partitioned by key.
// Jobs that share a key run one at a time in submission order, and a job that
// fails with a recoverable error is retried with exponential backoff.
//
// Callers must not invoke Submit concurrently for the same key; FIFO ordering
// relies on that external serialisation.
package shardqueue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dsbaciga/captainslog/offline/internal/backoff"
	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// ShardExecutor executes Jobs on worker goroutines partitioned by a stable hash
// of the key. FIFO ordering is preserved within a shard.
type ShardExecutor struct {
	cfg    Config
	queues []chan queuedJob // len == cfg.Shards

	done   chan struct{} // closed in Stop()
	closed uint32        // 0 → running, 1 → closed

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}

	p := &ShardExecutor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns ErrQueueFull (wrapped in *QueueFullError) if the shard is full
//     after EnqueueTimeout elapses.
//   - Returns ctx.Err() if the caller-provided context is cancelled first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	qj := queuedJob{ctx: ctx, job: job}
	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- qj:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil

	case <-p.done:
		return ErrExecutorClosed

	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{
			Shard:    shard,
			Length:   len(ch),
			Capacity: cap(ch),
		}
	}
}

// Barrier enqueues a no-op job on the shard for key and waits until it runs,
// ensuring all previously submitted jobs for that key have completed.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop signals every worker to finish its current job, drops jobs still
// queued, and waits for the workers to exit. Idempotent.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("shardqueue: stopping executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("shardqueue: executor stopped")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()

	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if qj.job != nil {
				p.runWithRetry(idx, label, qj)
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			// Pending sync passes are stale once the scheduler is torn down;
			// the next start re-reads the queue anyway.
			dropped := 0
			for {
				select {
				case <-ch:
					dropped++
				default:
					if dropped > 0 {
						p.cfg.Logger.Debug().Int("shard", idx).Int("dropped", dropped).Msg("shardqueue: dropped queued jobs on stop")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

func (p *ShardExecutor) runWithRetry(idx int, label string, qj queuedJob) {
	select {
	case <-qj.ctx.Done():
		p.safeHandleError(qj.ctx.Err())
		return
	default:
	}

	exp := backoff.Policy{
		Initial:    p.cfg.BaseBackoff,
		Max:        p.cfg.MaxInterval,
		Multiplier: 2,
	}.NewBackOff()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := p.safeRun(idx, qj)
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

		if err == nil {
			return
		}
		if sferrors.IsIrrecoverable(err) || attempt >= p.cfg.MaxAttempts {
			p.safeHandleError(err)
			return
		}

		retriesTotal.WithLabelValues(label).Inc()
		wait := exp.NextBackOff()
		p.cfg.Logger.Debug().Err(err).Int("shard", idx).Int("attempt", attempt).Dur("wait", wait).Msg("shardqueue: retrying job")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
			return
		case <-qj.ctx.Done():
			timer.Stop()
			p.safeHandleError(qj.ctx.Err())
			return
		}
	}
}

// safeRun protects the worker from a panicking job.
func (p *ShardExecutor) safeRun(idx int, qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Int("shard", idx).Interface("panic", r).Msg("shardqueue: job panic")
			err = &sferrors.ClassifiedError{
				Category:   sferrors.Irrecoverable,
				Underlying: errPanic,
			}
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue: error handler panic")
			}
		}()
		p.cfg.ErrorHandler(err)
	}()
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
