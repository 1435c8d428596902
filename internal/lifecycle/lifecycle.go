// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lifecycle owns the supervisor that starts and stops every
// long-lived SDK task (pollers, SSE reader, flushers) as a unit, plus the
// process-wide registry that warns on duplicate API key instantiation -
// grounded on the teacher's sync.Once-guarded singleton client pattern,
// generalized here to per-key rather than global-once since a single
// process may legitimately run clients for more than one environment.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/flagkit/go-client/pkg/log"
)

// Supervisor owns a set of background tasks' cancellation and graceful
// shutdown. Every task registered here is run in its own goroutine and
// tracked by a WaitGroup; Stop cancels the shared context, waits up to a
// grace window, and gives up (logging) on tasks that overrun it.
type Supervisor struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopFuncs []func() error
}

// NewSupervisor returns a Supervisor with a fresh cancellable context
// derived from parent.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Context is the shared context every registered task should select on.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go runs fn in its own goroutine, recovering and logging any panic rather
// than letting it crash the host process - no failure inside the SDK's
// background machinery should ever propagate out of the SDK.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("lifecycle: task %q panicked: %v", name, r)
			}
		}()
		fn(s.ctx)
	}()
}

// RegisterStop adds a cleanup function run during Stop, after the shared
// context has been cancelled - for things like a scheduler's Shutdown()
// that need an explicit call rather than just honoring ctx.Done().
func (s *Supervisor) RegisterStop(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopFuncs = append(s.stopFuncs, fn)
}

// Stop cancels every task's context, runs registered stop functions, and
// waits up to grace for all Go-launched goroutines to return. A goroutine
// that overruns grace is logged and abandoned. The stop functions run one
// after another before that wait and are not bounded by grace.
func (s *Supervisor) Stop(grace time.Duration) {
	s.cancel()

	s.mu.Lock()
	stopFuncs := s.stopFuncs
	s.mu.Unlock()
	for _, fn := range stopFuncs {
		if err := fn(); err != nil {
			log.Warnf("lifecycle: stop function failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.Warnf("lifecycle: shutdown grace period of %s elapsed with tasks still running", grace)
	}
}
