package cachemux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler is the preload/refresh scheduler (C10): one-time warm-up calls
// and periodic re-invocations layered on top of a descriptor's own
// Preload/Refresh fields (§4.10, §9 "Polymorphism over descriptor kinds").
// A single cron.Cron instance backs every scheduled method, mirroring
// cas.go's one-ticker-per-cache lifecycle generalized to N independently
// configured jobs; a bounded worker pool (sized by
// Config.SchedulerPoolSize) caps concurrent async preload/refresh runs.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	pool   chan struct{}
	log    Logger
	hooks  Hooks

	mu        sync.Mutex
	preloaded map[string]bool
	entries   map[string]cron.EntryID
}

// NewScheduler builds a Scheduler bound to e. poolSize<=0 falls back to
// e's Config.SchedulerPoolSize.
func NewScheduler(e *Engine, poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = e.cfg.SchedulerPoolSize
	}
	return &Scheduler{
		engine:    e,
		cron:      cron.New(),
		pool:      make(chan struct{}, poolSize),
		log:       e.log,
		hooks:     e.hooks,
		preloaded: make(map[string]bool),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start runs the underlying cron scheduler in its own goroutine. Call once
// after every AddRefresh has registered.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron scheduler and waits for any running job to return.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// AddPreload schedules a one-time warm-up call for methodKey (§4.10's
// "preload descriptor"), with pd.Args as the call arguments when set.
// Discovery is insert-once: a second AddPreload for
// the same methodKey is a no-op, matching the resolver's (C8) memoization
// discipline. When pd.Async is false, the preload runs inline and AddPreload
// blocks until it completes (after pd.Delay and any retries); when true, it
// is handed to the bounded worker pool and AddPreload returns immediately.
func (s *Scheduler) AddPreload(ctx context.Context, methodKey string, cc CallContext, pd *PreloadDescriptor) error {
	s.mu.Lock()
	if s.preloaded[methodKey] {
		s.mu.Unlock()
		return nil
	}
	s.preloaded[methodKey] = true
	s.mu.Unlock()

	if pd.Args != nil {
		cc.Args = pd.Args
	}

	run := func() {
		if pd.Delay > 0 {
			select {
			case <-time.After(pd.Delay):
			case <-ctx.Done():
				return
			}
		}
		s.runWithRetry(ctx, methodKey, cc, pd.RetryCount, pd.RetryInterval)
	}

	if !pd.Async {
		run()
		return nil
	}

	select {
	case s.pool <- struct{}{}:
		go func() {
			defer func() { <-s.pool }()
			run()
		}()
	default:
		// pool saturated: degrade to inline rather than drop the preload.
		run()
	}
	return nil
}

// runWithRetry invokes the call once, retrying up to retryCount times on
// error with retryInterval between attempts. A preload's own Invoke
// result is discarded; only the read-through side effect
// (populating the cache) matters.
func (s *Scheduler) runWithRetry(ctx context.Context, methodKey string, cc CallContext, retryCount int, retryInterval time.Duration) {
	var err error
	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryInterval):
			case <-ctx.Done():
				return
			}
		}
		_, err = s.engine.Invoke(ctx, cc)
		if err == nil {
			return
		}
	}
	s.log.Warn("preload exhausted retries", Fields{"method": methodKey, "err": err})
	s.hooks.LoaderError(cc.Descriptor.Namespace(), methodKey, err)
}

// AddRefresh schedules a periodic re-invocation of cc for methodKey (§4.10's
// "refresh descriptor"), with rd.Args as the call arguments when set.
// RefreshIncremental is rejected at discovery time
// as a ConfigError (§9 note 3); only RefreshFull runs. A second AddRefresh
// for the same methodKey replaces the prior cron entry.
func (s *Scheduler) AddRefresh(ctx context.Context, methodKey string, cc CallContext, rd *RefreshDescriptor) error {
	if rd.Mode == RefreshIncremental {
		return &ConfigError{Descriptor: methodKey, Reason: "incremental refresh is not implemented"}
	}
	if rd.Period <= 0 {
		return &ConfigError{Descriptor: methodKey, Reason: "refresh period must be positive"}
	}
	if rd.Args != nil {
		cc.Args = rd.Args
	}

	s.mu.Lock()
	if id, ok := s.entries[methodKey]; ok {
		s.cron.Remove(id)
		delete(s.entries, methodKey)
	}
	s.mu.Unlock()

	spec := fmt.Sprintf("@every %s", rd.Period)
	id, err := s.cron.AddFunc(spec, func() { s.dispatchRefresh(ctx, methodKey, cc) })
	if err != nil {
		return &ConfigError{Descriptor: methodKey, Reason: err.Error()}
	}

	s.mu.Lock()
	s.entries[methodKey] = id
	s.mu.Unlock()

	if rd.InitialRefresh {
		s.dispatchRefresh(ctx, methodKey, cc)
	}
	return nil
}

// dispatchRefresh always runs through the bounded pool: refresh ticks are
// background work by construction, unlike a preload which may need to
// block its caller.
func (s *Scheduler) dispatchRefresh(ctx context.Context, methodKey string, cc CallContext) {
	select {
	case s.pool <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.pool }()

	if _, err := s.engine.Refresh(ctx, cc); err != nil {
		s.log.Warn("refresh invoke failed", Fields{"method": methodKey, "err": err})
		s.hooks.LoaderError(cc.Descriptor.Namespace(), methodKey, err)
	}
}
