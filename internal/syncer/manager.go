// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/pkg/log"
)

// State is one of the sync manager's five states.
type State string

const (
	StateIdle               State = "IDLE"
	StatePolling             State = "POLLING"
	StateStreamingStarting   State = "STREAMING_STARTING"
	StateStreamingReady      State = "STREAMING_READY"
	StateFallbackPolling     State = "FALLBACK_POLLING"
)

// slowSegmentCadence is how often the segment poller runs once streaming
// is ready and SSE pushes are expected to carry most segment deltas.
const slowSegmentCadence = 10 * time.Minute

// Manager arbitrates between the poller and the SSE client, subscribing to
// the notification bus rather than holding a direct reference to the SSE
// client (§4.9).
type Manager struct {
	mu    sync.Mutex
	state State

	poller         *Poller
	bus            *Bus
	store          *storage.Storage
	streamingOn    bool
	normalSegments time.Duration
	disabled       bool // set by CONTROL STREAMING_DISABLED; streaming is not resumed afterwards
}

// NewManager wires a Manager around an already-constructed Poller and Bus.
func NewManager(poller *Poller, bus *Bus, store *storage.Storage, streamingEnabled bool, segmentsEvery time.Duration) *Manager {
	return &Manager{
		state:          StateIdle,
		poller:         poller,
		bus:            bus,
		store:          store,
		streamingOn:    streamingEnabled,
		normalSegments: segmentsEvery,
	}
}

// State reports the current state, for the debug server's /debug/healthz.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnInitialSyncSuccess transitions out of IDLE once the first fetch lands.
func (m *Manager) OnInitialSyncSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streamingOn {
		m.transitionLocked(StateStreamingStarting)
	} else {
		m.transitionLocked(StatePolling)
	}
}

// OnStreamingReady transitions into STREAMING_READY from STREAMING_STARTING
// or FALLBACK_POLLING (unless a CONTROL frame disabled streaming): flag
// polling stops and segment polling drops to a slow cadence, since SSE now
// carries most updates.
func (m *Manager) OnStreamingReady(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled || (m.state != StateStreamingStarting && m.state != StateFallbackPolling) {
		return
	}
	m.transitionLocked(StateStreamingReady)
	if err := m.poller.PauseFlags(); err != nil {
		log.Warnf("syncer: pausing flag poller on streaming ready: %v", err)
	}
	if err := m.poller.SetSegmentsCadence(ctx, slowSegmentCadence); err != nil {
		log.Warnf("syncer: slowing segment poller on streaming ready: %v", err)
	}
}

// OnStreamingLost transitions into FALLBACK_POLLING: pollers resume at
// normal cadence. Triggered by an SSE error, a zero-publisher occupancy
// message, or a CONTROL streaming-pause or streaming-disabled frame.
func (m *Manager) OnStreamingLost(ctx context.Context, flagsEvery time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFallbackPolling {
		return
	}
	m.transitionLocked(StateFallbackPolling)
	if err := m.poller.ResumeFlags(ctx, flagsEvery); err != nil {
		log.Warnf("syncer: resuming flag poller on streaming loss: %v", err)
	}
	if err := m.poller.SetSegmentsCadence(ctx, m.normalSegments); err != nil {
		log.Warnf("syncer: restoring segment poller cadence on streaming loss: %v", err)
	}
}

func (m *Manager) transitionLocked(to State) {
	log.Infof("syncer: sync manager %s -> %s", m.state, to)
	m.state = to
}

// hasGap implements §4.8's out-of-order check: a SPLIT_UPDATE/SPLIT_KILL
// notification is only safe to apply in place when its previous-change-
// number matches what storage currently holds. A mismatch means at least
// one earlier update was missed (e.g. a dropped connection), and the
// pushed payload alone is not enough to catch up - everything between the
// two change numbers is still missing.
func (m *Manager) hasGap(n dto.Notification) bool {
	return n.PreviousChangeNo != 0 && n.PreviousChangeNo != m.store.FlagChangeNumber()
}

// catchUpFlags issues a synchronous /splitChanges fetch from storage's
// current change number forward, discarding the notification's own payload
// in favor of whatever the backend says the full gap-free delta is.
func (m *Manager) catchUpFlags(ctx context.Context, n dto.Notification) {
	log.Warnf("syncer: %s gap detected (pcn=%d, have=%d), issuing catch-up fetch", n.Type, n.PreviousChangeNo, m.store.FlagChangeNumber())
	m.poller.pollFlags(ctx)
}

// Consume runs the bus-subscription loop that drives manager transitions
// from decoded notifications. Flag/segment/kill payloads are applied to
// storage here; occupancy and control frames drive state transitions.
func (m *Manager) Consume(ctx context.Context, ch <-chan dto.Notification, flagsEvery time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			m.apply(ctx, n, flagsEvery)
		}
	}
}

func (m *Manager) apply(ctx context.Context, n dto.Notification, flagsEvery time.Duration) {
	switch n.Type {
	case dto.NotificationSplitUpdate:
		if m.hasGap(n) {
			m.catchUpFlags(ctx, n)
		} else if n.Definition != nil {
			m.store.ApplyFlagChanges([]dto.Flag{*n.Definition}, n.ChangeNumber)
		} else {
			m.catchUpFlags(ctx, n)
		}
	case dto.NotificationSplitKill:
		if m.hasGap(n) {
			m.catchUpFlags(ctx, n)
		} else {
			m.store.KillFlag(n.FeatureName, n.DefaultTreatment, n.ChangeNumber)
		}
	case dto.NotificationSegmentUpd:
		if cn := m.store.SegmentChangeNumber(n.SegmentName); cn < n.ChangeNumber {
			m.poller.FetchSegmentNow(ctx, n.SegmentName)
		}
	case dto.NotificationOccupancy:
		if n.Publishers == 0 {
			m.OnStreamingLost(ctx, flagsEvery)
		} else if m.State() == StateFallbackPolling {
			m.OnStreamingReady(ctx)
		}
	case dto.NotificationControl:
		switch n.ControlType {
		case dto.ControlStreamingPaused:
			m.OnStreamingLost(ctx, flagsEvery)
		case dto.ControlStreamingDisabled:
			m.mu.Lock()
			m.disabled = true
			m.mu.Unlock()
			m.OnStreamingLost(ctx, flagsEvery)
		case dto.ControlStreamingResumed:
			m.OnStreamingReady(ctx)
		}
	}
}
