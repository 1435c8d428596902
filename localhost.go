// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghodss/yaml"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/lifecycle"
	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/internal/telemetry"
	"github.com/flagkit/go-client/pkg/log"
)

// localhostAPIKey selects localhost mode: no network I/O at all, storage
// populated from a local file instead of the sync API.
const localhostAPIKey = "localhost"

// buildLocalhostFactory wires a Factory backed entirely by a local flag
// file, polled for changes by mtime rather than synced over HTTP/SSE.
func buildLocalhostFactory(apiKey string, cfg Config) (*Factory, error) {
	path, err := localhostFilePath(cfg)
	if err != nil {
		lifecycle.UnregisterKey(apiKey)
		return nil, err
	}

	store := storage.New()
	stats := telemetry.NewStats()
	stats.SetConfigEcho(configEcho(cfg))

	supervisor := lifecycle.NewSupervisor(context.Background())

	loader := &localhostLoader{path: path, store: store}
	if err := loader.reload(); err != nil {
		log.Warnf("flagkit: localhost: initial load of %s failed: %v", path, err)
	}
	store.SetReady()

	refresh := time.Duration(cfg.FeaturesRefreshRate)
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	supervisor.Go("localhost-file-watch", func(ctx context.Context) {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := loader.reloadIfChanged(); err != nil {
					log.Warnf("flagkit: localhost: reloading %s failed: %v", path, err)
				}
			}
		}
	})

	impressions := telemetry.NewImpressionPipeline(cfg.ImpressionsMode, cfg.ImpressionsQueueSize, stats, cfg.ImpressionListener)
	events := telemetry.NewEventsPipeline(cfg.EventsQueueSize, stats)

	f := &Factory{
		apiKey:     apiKey,
		cfg:        cfg,
		store:      store,
		stats:      stats,
		supervisor: supervisor,
		startedAt:  startTime(),
	}
	f.client = newClient(store, impressions, events, stats, &f.destroyed)
	f.manager = newManager(store)
	return f, nil
}

func localhostFilePath(cfg Config) (string, error) {
	if cfg.LocalhostFile != "" {
		return cfg.LocalhostFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("flagkit: resolving $HOME for localhost mode: %w", err)
	}
	return filepath.Join(home, ".split"), nil
}

// localhostLoader re-parses the backing file only when its mtime has
// advanced, and assigns each reload its own synthetic change number so
// Manager/debug-server views still show monotonic versions.
type localhostLoader struct {
	path         string
	store        *storage.Storage
	mtime        time.Time
	changeNumber int64
}

func (l *localhostLoader) reloadIfChanged() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return err
	}
	if !info.ModTime().After(l.mtime) {
		return nil
	}
	return l.reload()
}

func (l *localhostLoader) reload() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	var flags []dto.Flag
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml", ".json":
		flags, err = parseLocalhostDefinitions(raw)
	default:
		flags, err = parseLocalhostFlatFile(raw)
	}
	if err != nil {
		return err
	}

	l.changeNumber++
	for i := range flags {
		flags[i].ChangeNumber = l.changeNumber
	}
	l.store.ApplyFlagChanges(flags, l.changeNumber)
	l.mtime = info.ModTime()
	return nil
}

// parseLocalhostDefinitions reads a full-definition localhost file: a JSON
// or YAML array of flags, using ghodss/yaml so a plain JSON file parses
// identically (JSON is a YAML subset).
func parseLocalhostDefinitions(raw []byte) ([]dto.Flag, error) {
	var flags []dto.Flag
	if err := yaml.Unmarshal(raw, &flags); err != nil {
		return nil, fmt.Errorf("flagkit: localhost: parsing flag definitions: %w", err)
	}
	return flags, nil
}

// parseLocalhostFlatFile reads the plain "# comment" / "feature treatment"
// format: every matching key gets the named treatment unconditionally,
// since the flat format carries no targeting rules at all.
func parseLocalhostFlatFile(raw []byte) ([]dto.Flag, error) {
	var flags []dto.Flag
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		flags = append(flags, dto.Flag{
			Name:              fields[0],
			Status:            dto.StatusActive,
			DefaultTreatment:  fields[1],
			TrafficAllocation: 100,
			Algo:              dto.AlgoMurmur,
		})
	}
	return flags, scanner.Err()
}
