package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	sferrors "github.com/dsbaciga/captainslog/offline/internal/errors"
	"github.com/dsbaciga/captainslog/offline/internal/shardqueue"
)

// schedulerKey serialises every auto-sync pass on one shard.
const schedulerKey = "sync"

var errCSRFRefresh = errors.New(ErrCodeCSRFRefreshFailed)

// scheduler debounces trigger signals into SyncAll passes run by a
// single-shard executor, and re-arms a follow-up pass while passes keep
// ending with failures.
type scheduler struct {
	e      *Engine
	exec   *shardqueue.ShardExecutor
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	settle   *time.Timer
	followUp *time.Timer
	streak   int
	unsubs   []func()
}

// ScheduleAutoSync subscribes to triggers (connectivity restored, app
// foregrounded). Each signal starts SyncAll once the settle delay passes with
// no newer signal. A pass that fails on token refresh is retried with
// backoff; a pass that ends with failed mutations arms a follow-up pass. The
// returned teardown removes every subscription and stops pending work.
func (e *Engine) ScheduleAutoSync(triggers ...Trigger) (teardown func()) {
	cfg := SchedulerConfig{}
	if e.schedCfg != nil {
		cfg = *e.schedCfg
	} else if loaded, err := shardqueue.LoadConfig(); err == nil {
		cfg = loaded
	} else {
		e.log.Warn().Err(err).Msg("invalid scheduler environment, using defaults")
	}
	cfg.Logger = e.log
	cfg.ErrorHandler = func(err error) {
		e.log.Warn().Err(err).Msg("auto-sync pass gave up")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &scheduler{
		e:      e,
		exec:   shardqueue.NewShardExecutor(cfg),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, t := range triggers {
		if t == nil {
			continue
		}
		s.unsubs = append(s.unsubs, t.Subscribe(s.trigger))
	}

	var once sync.Once
	return func() { once.Do(s.stop) }
}

// trigger restarts the settle timer.
func (s *scheduler) trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.settle != nil {
		s.settle.Stop()
	}
	s.settle = time.AfterFunc(s.e.settleDelay, s.submit)
}

func (s *scheduler) submit() {
	err := s.exec.Submit(s.ctx, schedulerKey, shardqueue.JobFunc(s.run))
	switch {
	case err == nil:
	case errors.Is(err, shardqueue.ErrQueueFull):
		// passes already queued will pick up the new work
		s.e.log.Debug().Msg("auto-sync pass already queued")
	case errors.Is(err, shardqueue.ErrExecutorClosed), errors.Is(err, context.Canceled):
	default:
		s.e.log.Warn().Err(err).Msg("failed to queue auto-sync pass")
	}
}

// run is the executor job. A token refresh failure is returned as a
// recoverable error so the executor retries the pass with backoff.
func (s *scheduler) run(ctx context.Context) error {
	res := s.e.SyncAll(ctx)

	if res.Status == StatusError && res.Error == ErrCodeCSRFRefreshFailed {
		if ctx.Err() != nil {
			return nil
		}
		return sferrors.NewNetworkError("auto-sync", errCSRFRefresh)
	}
	if res.Status == StatusAlreadySyncing || res.Status == StatusOffline {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if s.followUp != nil {
		s.followUp.Stop()
		s.followUp = nil
	}
	if res.Failed == 0 {
		s.streak = 0
		return nil
	}
	delay := s.e.policy.RandomDelay(s.streak)
	s.streak++
	s.followUp = time.AfterFunc(delay, s.submit)
	s.e.log.Debug().Int("failed", res.Failed).Dur("delay", delay).Msg("follow-up sync pass scheduled")
	return nil
}

func (s *scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	unsubs := s.unsubs
	s.unsubs = nil
	if s.settle != nil {
		s.settle.Stop()
	}
	if s.followUp != nil {
		s.followUp.Stop()
	}
	s.mu.Unlock()

	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
	s.cancel()
	s.exec.Stop()
}
