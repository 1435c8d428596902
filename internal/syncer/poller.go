// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/pkg/log"
)

// pollBackoffBase is the starting wait for a poll cycle's retry, per §4.6.
const pollBackoffBase = 500 * time.Millisecond

// Poller drives periodic /splitChanges and /segmentChanges fetches through
// an in-process cron-style scheduler, the same pattern the teacher's task
// manager uses for its background jobs rather than raw tickers. A failed
// fetch is retried with exponential backoff, capped at the poll cadence
// itself, before the cycle gives up and waits for the next scheduled run.
type Poller struct {
	fetcher *Fetcher
	store   *storage.Storage
	sched   gocron.Scheduler

	flagsJob    gocron.Job
	segmentsJob gocron.Job

	flagsEvery    time.Duration
	segmentsEvery time.Duration
}

// NewPoller creates a scheduler for this sync session. Callers must call
// Stop to release the scheduler's goroutines.
func NewPoller(fetcher *Fetcher, store *storage.Storage) (*Poller, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Poller{fetcher: fetcher, store: store, sched: s}, nil
}

// Start registers the flag and segment poll jobs at the given cadences and
// starts the scheduler. An immediate fetch is issued synchronously before
// the jobs are scheduled, so the caller's first readiness check has
// something to observe right away.
func (p *Poller) Start(ctx context.Context, flagsEvery, segmentsEvery time.Duration) error {
	p.flagsEvery = flagsEvery
	p.segmentsEvery = segmentsEvery

	p.pollFlags(ctx)
	p.pollSegments(ctx)

	flagsJob, err := p.sched.NewJob(
		gocron.DurationJob(flagsEvery),
		gocron.NewTask(func() { p.pollFlags(ctx) }),
	)
	if err != nil {
		return err
	}
	p.flagsJob = flagsJob

	segmentsJob, err := p.sched.NewJob(
		gocron.DurationJob(segmentsEvery),
		gocron.NewTask(func() { p.pollSegments(ctx) }),
	)
	if err != nil {
		return err
	}
	p.segmentsJob = segmentsJob

	p.sched.Start()
	return nil
}

// SetSegmentsCadence re-registers the segment poll job at a new interval,
// used by the sync manager when streaming goes READY (slow cadence) or
// falls back to polling (normal cadence).
func (p *Poller) SetSegmentsCadence(ctx context.Context, every time.Duration) error {
	p.segmentsEvery = every
	if p.segmentsJob != nil {
		if err := p.sched.RemoveJob(p.segmentsJob.ID()); err != nil {
			return err
		}
	}
	job, err := p.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { p.pollSegments(ctx) }),
	)
	if err != nil {
		return err
	}
	p.segmentsJob = job
	return nil
}

// PauseFlags removes the flags poll job, used once streaming becomes ready
// and SSE pushes take over delta delivery.
func (p *Poller) PauseFlags() error {
	if p.flagsJob == nil {
		return nil
	}
	err := p.sched.RemoveJob(p.flagsJob.ID())
	p.flagsJob = nil
	return err
}

// ResumeFlags re-registers the flags poll job, used on fallback to polling.
func (p *Poller) ResumeFlags(ctx context.Context, every time.Duration) error {
	p.flagsEvery = every
	if p.flagsJob != nil {
		return nil
	}
	p.pollFlags(ctx)
	job, err := p.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { p.pollFlags(ctx) }),
	)
	if err != nil {
		return err
	}
	p.flagsJob = job
	return nil
}

func (p *Poller) pollFlags(ctx context.Context) {
	cn := p.store.FlagChangeNumber()
	var changes dto.SplitChanges
	err := FetchWithBackoff(ctx, pollBackoffBase, p.backoffCap(p.flagsEvery), func(ctx context.Context) error {
		var err error
		changes, err = p.fetcher.FetchSplitChanges(ctx, cn)
		return err
	})
	if err != nil {
		log.Warnf("syncer: poll /splitChanges failed: %v", err)
		return
	}
	if len(changes.FeatureFlags.Delta) == 0 && changes.FeatureFlags.Till == cn {
		return
	}
	p.store.ApplyFlagChanges(changes.FeatureFlags.Delta, changes.FeatureFlags.Till)
	if !p.store.Ready() {
		p.syncReferencedSegments(ctx)
		p.store.SetReady()
	}
}

// backoffCap bounds retry backoff at the poll cadence itself (§4.6): a
// cadence of zero (not yet started, e.g. the very first synchronous fetch
// in Start) falls back to pollBackoffBase so the cap is never degenerate.
func (p *Poller) backoffCap(cadence time.Duration) time.Duration {
	if cadence <= 0 {
		return pollBackoffBase
	}
	return cadence
}

// syncReferencedSegments fetches every segment named by an IN_SEGMENT or
// IN_LARGE_SEGMENT matcher in the flags just loaded, a one-time step for
// the readiness gate (§4.9): ready means flags AND their segments landed.
func (p *Poller) syncReferencedSegments(ctx context.Context) {
	for _, name := range p.store.SegmentNames() {
		p.fetchSegment(ctx, name)
	}
}

func (p *Poller) pollSegments(ctx context.Context) {
	for _, name := range p.store.SegmentNames() {
		p.fetchSegment(ctx, name)
	}
}

// FetchSegmentNow triggers an immediate out-of-band fetch for one segment,
// used when a SEGMENT_UPDATE notification arrives over SSE: the frame only
// carries the new change number, so the client still has to pull the
// added/removed delta itself.
func (p *Poller) FetchSegmentNow(ctx context.Context, name string) {
	p.fetchSegment(ctx, name)
}

func (p *Poller) fetchSegment(ctx context.Context, name string) {
	cn := p.store.SegmentChangeNumber(name)
	var changes dto.SegmentChanges
	err := FetchWithBackoff(ctx, pollBackoffBase, p.backoffCap(p.segmentsEvery), func(ctx context.Context) error {
		var err error
		changes, err = p.fetcher.FetchSegmentChanges(ctx, name, cn)
		return err
	})
	if err != nil {
		log.Warnf("syncer: poll /segmentChanges/%s failed: %v", name, err)
		return
	}
	if changes.Till == cn {
		return
	}
	p.store.ApplySegmentChanges(name, changes.Added, changes.Removed, changes.Till)
}

// Stop shuts down the scheduler, blocking until its jobs have drained.
func (p *Poller) Stop() error {
	return p.sched.Shutdown()
}
