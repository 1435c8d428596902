// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package debugsrv is the optional, read-only introspection HTTP server
// described in §4.15: current storage snapshot, readiness/sync state, and
// the Prometheus registry's own handler. Routed with gorilla/mux and
// wrapped with gorilla/handlers' logging middleware, matching the rest of
// the pack's HTTP-surface idiom.
package debugsrv

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flagkit/go-client/internal/storage"
	"github.com/flagkit/go-client/internal/syncer"
	"github.com/flagkit/go-client/internal/telemetry"
	"github.com/flagkit/go-client/pkg/log"
)

// Server is the introspection HTTP server. It never mutates SDK state.
type Server struct {
	httpSrv *http.Server
}

// splitView mirrors the public Manager.Splits() view, kept local to avoid
// an import cycle between debugsrv and the root package.
type splitView struct {
	Name              string `json:"name"`
	ChangeNumber      int64  `json:"changeNumber"`
	TrafficAllocation int    `json:"trafficAllocation"`
	Killed            bool   `json:"killed"`
}

// New builds (but does not start) a debug server bound to addr.
func New(addr string, store *storage.Storage, mgr *syncer.Manager, stats *telemetry.Stats, startedAt time.Time) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/debug/splits", func(w http.ResponseWriter, req *http.Request) {
		writeSplits(w, store)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeHealth(w, store, mgr, startedAt)
	}).Methods(http.MethodGet)

	r.Handle("/debug/metrics", promhttp.HandlerFor(stats.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	handler := handlers.CombinedLoggingHandler(logWriter{}, r)

	return &Server{
		httpSrv: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}
}

func writeSplits(w http.ResponseWriter, store *storage.Storage) {
	snap := store.Snapshot()
	names := store.FlagNames()
	views := make([]splitView, 0, len(names))
	for _, name := range names {
		f, ok := snap.Flag(name)
		if !ok {
			continue
		}
		views = append(views, splitView{
			Name:              f.Name,
			ChangeNumber:      f.ChangeNumber,
			TrafficAllocation: f.TrafficAllocation,
			Killed:            f.Killed,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func writeHealth(w http.ResponseWriter, store *storage.Storage, mgr *syncer.Manager, startedAt time.Time) {
	body := map[string]interface{}{
		"ready":     store.Ready(),
		"uptime":    time.Since(startedAt).String(),
		"flagCount": len(store.FlagNames()),
	}
	if mgr != nil {
		body["syncState"] = mgr.State()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// Start runs the server's Serve loop in the caller's goroutine; callers
// should invoke this via a lifecycle.Supervisor.Go.
func (s *Server) Start() error {
	log.Infof("debugsrv: listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the server immediately, including any active connections.
func (s *Server) Stop() error {
	return s.httpSrv.Close()
}

// logWriter adapts pkg/log into the io.Writer gorilla/handlers expects for
// its combined-log-format output.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Infof("debugsrv: %s", string(p))
	return len(p), nil
}
