// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package flagkit is a client-side feature-flag evaluation SDK: given a
// (key, feature, attributes) query it returns a treatment name in-process,
// with no network round-trip per call, by keeping a local cache of flag
// and segment definitions synced in the background via polling and an
// optional streaming channel.
//
// A typical embedding:
//
//	factory, err := flagkit.BuildFactory(apiKey, nil)
//	if err != nil { ... }
//	if err := factory.BlockUntilReady(10 * time.Second); err != nil { ... }
//	defer factory.Destroy()
//
//	client := factory.Client()
//	treatment := client.Treatment(userID, "new_checkout_flow", nil)
package flagkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/gops/agent"

	"github.com/flagkit/go-client/internal/debugsrv"
	"github.com/flagkit/go-client/internal/lifecycle"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/internal/syncer"
	"github.com/flagkit/go-client/internal/telemetry"
	"github.com/flagkit/go-client/pkg/log"
)

// shutdownGrace bounds how long Destroy waits for background tasks to stop
// before giving up and logging rather than hanging the host process.
const shutdownGrace = 5 * time.Second

// Factory owns every piece of background machinery a running SDK instance
// needs - storage, sync, telemetry, the optional debug server - as one
// unit, started by BuildFactory and torn down by Destroy.
type Factory struct {
	apiKey     string
	cfg        Config
	store      *storage.Storage
	stats      *telemetry.Stats
	supervisor *lifecycle.Supervisor
	bus        *syncer.Bus
	poller     *syncer.Poller
	debugSrv   *debugsrv.Server
	startedAt  time.Time
	destroyed  atomic.Bool

	client  *Client
	manager *Manager
}

// BuildFactory validates apiKey, loads cfg (falling back to DefaultConfig
// if nil), and starts every background task the configuration calls for:
// the flag/segment pollers always, the SSE client and notification bus if
// streaming is enabled, the debug server if an address is configured, and
// the gops agent if enabled. It never blocks for readiness - call
// BlockUntilReady for that.
//
// apiKey == "localhost" switches to localhost mode (see localhost.go): no
// network I/O, flags read from a local file instead.
func BuildFactory(apiKey string, cfg *Config) (*Factory, error) {
	if apiKey == "" {
		return nil, errors.New("flagkit: empty API key")
	}

	resolved := DefaultConfig()
	if cfg != nil {
		resolved = *cfg
	}

	lifecycle.RegisterKey(apiKey)

	if apiKey == localhostAPIKey {
		return buildLocalhostFactory(apiKey, resolved)
	}
	return buildNetworkFactory(apiKey, resolved)
}

func buildNetworkFactory(apiKey string, cfg Config) (*Factory, error) {
	store := storage.New()
	stats := telemetry.NewStats()
	stats.SetConfigEcho(configEcho(cfg))

	supervisor := lifecycle.NewSupervisor(context.Background())
	ctx := supervisor.Context()

	connectTimeout := time.Duration(cfg.ConnectionTimeout)
	fetcher := syncer.NewFetcher(cfg.SDKAPIBaseURL, apiKey, connectTimeout)
	fetcher.Stats = stats

	poller, err := syncer.NewPoller(fetcher, store)
	if err != nil {
		lifecycle.UnregisterKey(apiKey)
		return nil, fmt.Errorf("flagkit: building poller: %w", err)
	}

	bus := syncer.NewBus()
	if cfg.NATSBusAddress != "" {
		bus.EnableNATSMirror(cfg.NATSBusAddress, "flagkit")
	}

	mgr := syncer.NewManager(poller, bus, store, cfg.StreamingEnabled, time.Duration(cfg.SegmentsRefreshRate))

	if err := poller.Start(ctx, time.Duration(cfg.FeaturesRefreshRate), time.Duration(cfg.SegmentsRefreshRate)); err != nil {
		lifecycle.UnregisterKey(apiKey)
		return nil, fmt.Errorf("flagkit: starting poller: %w", err)
	}
	supervisor.RegisterStop(poller.Stop)
	mgr.OnInitialSyncSuccess()

	impressions := telemetry.NewImpressionPipeline(cfg.ImpressionsMode, cfg.ImpressionsQueueSize, stats, cfg.ImpressionListener)
	events := telemetry.NewEventsPipeline(cfg.EventsQueueSize, stats)

	if cfg.StreamingEnabled {
		wireStreaming(supervisor, ctx, cfg, apiKey, mgr, bus)
	}

	var debugSrv *debugsrv.Server
	startedAt := startTime()
	if cfg.DebugServerAddr != "" {
		debugSrv = debugsrv.New(cfg.DebugServerAddr, store, mgr, stats, startedAt)
		supervisor.Go("debug-server", func(ctx context.Context) {
			if err := debugSrv.Start(); err != nil {
				log.Warnf("flagkit: debug server stopped: %v", err)
			}
		})
		supervisor.RegisterStop(debugSrv.Stop)
	}

	if cfg.GopsEnabled {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Warnf("flagkit: gops/agent.Listen failed: %v", err)
		}
	}

	startFlushLoops(supervisor, cfg, impressions, events, stats, apiKey)

	f := &Factory{
		apiKey:     apiKey,
		cfg:        cfg,
		store:      store,
		stats:      stats,
		supervisor: supervisor,
		bus:        bus,
		poller:     poller,
		debugSrv:   debugSrv,
		startedAt:  startedAt,
	}
	f.client = newClient(store, impressions, events, stats, &f.destroyed)
	f.manager = newManager(store)
	return f, nil
}

// wireStreaming subscribes a sync-manager consumer to the bus and starts
// the SSE client, wiring its ready/disconnect callbacks back into the
// sync manager's state transitions (§4.9).
func wireStreaming(supervisor *lifecycle.Supervisor, ctx context.Context, cfg Config, apiKey string, mgr *syncer.Manager, bus *syncer.Bus) {
	sub := bus.Subscribe()
	supervisor.Go("sync-manager-consume", func(ctx context.Context) {
		mgr.Consume(ctx, sub, time.Duration(cfg.FeaturesRefreshRate))
	})

	sse := &syncer.SSEClient{
		BaseURL:    cfg.StreamingAPIBaseURL,
		HTTPClient: &http.Client{}, // no timeout: the connection is meant to stay open
		Auth:       newAuthFetcher(cfg.AuthAPIBaseURL, apiKey, time.Duration(cfg.ConnectionTimeout)),
		Bus:        bus,
	}
	sse.OnStreamReady = func() { mgr.OnStreamingReady(ctx) }
	sse.OnDisconnect = func(error) { mgr.OnStreamingLost(ctx, time.Duration(cfg.FeaturesRefreshRate)) }

	supervisor.Go("sse-client", sse.Run)
}

// newAuthFetcher builds the syncer.AuthFetcher the SSE client uses to
// obtain a fresh streaming JWT before each connection attempt.
func newAuthFetcher(baseURL, apiKey string, timeout time.Duration) syncer.AuthFetcher {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (syncer.AuthToken, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/auth", nil)
		if err != nil {
			return syncer.AuthToken{}, err
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return syncer.AuthToken{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return syncer.AuthToken{}, fmt.Errorf("flagkit: auth endpoint returned %d", resp.StatusCode)
		}
		var tok syncer.AuthToken
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return syncer.AuthToken{}, fmt.Errorf("flagkit: decoding auth response: %w", err)
		}
		return tok, nil
	}
}

// Client returns the evaluation/tracking surface for this factory.
func (f *Factory) Client() *Client { return f.client }

// Manager returns the introspection surface for this factory.
func (f *Factory) Manager() *Manager { return f.manager }

// BlockUntilReady waits up to d for the first full sync (flags plus every
// segment they reference) to complete, returning a timeout error if it
// does not.
func (f *Factory) BlockUntilReady(d time.Duration) error {
	if f.store.Ready() {
		return nil
	}
	deadline := time.After(d)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("flagkit: not ready after %s", d)
		case <-ticker.C:
			if f.store.Ready() {
				return nil
			}
		}
	}
}

// Destroy stops every background task owned by this factory and releases
// its slot in the duplicate-instantiation registry. Evaluation and
// tracking calls made through this factory's Client after Destroy always
// return the control treatment / false, never an error.
func (f *Factory) Destroy() {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}
	f.supervisor.Stop(shutdownGrace)
	if f.bus != nil {
		f.bus.Close()
	}
	lifecycle.UnregisterKey(f.apiKey)
}

func configEcho(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"streamingEnabled": cfg.StreamingEnabled,
		"impressionsMode":  string(cfg.ImpressionsMode),
		"featuresRefresh":  time.Duration(cfg.FeaturesRefreshRate).String(),
		"segmentsRefresh":  time.Duration(cfg.SegmentsRefreshRate).String(),
	}
}

func startTime() time.Time { return time.Now() }
