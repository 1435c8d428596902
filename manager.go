// Copyright (C) 2026 Flagkit Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package flagkit

import (
	"sort"

	"github.com/flagkit/go-client/internal/dto"
	"github.com/flagkit/go-client/internal/storage"
)

// SplitView is a read-only projection of one flag definition, the shape
// Manager.Splits() exposes. The debug server's /debug/splits route serves
// only the name, change number, traffic allocation and killed state.
type SplitView struct {
	Name              string
	TrafficAllocation int
	ChangeNumber      int64
	Killed            bool
	DefaultTreatment  string
	Treatments        []string
	Configs           map[string]string
	Sets              []string
}

// Manager is the introspection surface over the SDK's current view of
// flags, distinct from Client's evaluation surface. Both read through the
// same Storage.
type Manager struct {
	store *storage.Storage
}

func newManager(store *storage.Storage) *Manager {
	return &Manager{store: store}
}

// Splits returns a view of every currently known flag.
func (m *Manager) Splits() []SplitView {
	names := m.store.FlagNames()
	sort.Strings(names)
	views := make([]SplitView, 0, len(names))
	for _, name := range names {
		if v := m.Split(name); v != nil {
			views = append(views, *v)
		}
	}
	return views
}

// Split returns a view of one named flag, or nil if it is unknown.
func (m *Manager) Split(name string) *SplitView {
	snap := m.store.Snapshot()
	f, ok := snap.Flag(name)
	if !ok {
		return nil
	}
	return splitViewOf(f)
}

// SplitNames lists every currently known flag name.
func (m *Manager) SplitNames() []string {
	names := m.store.FlagNames()
	sort.Strings(names)
	return names
}

func splitViewOf(f dto.Flag) *SplitView {
	seen := map[string]struct{}{f.DefaultTreatment: {}}
	treatments := []string{f.DefaultTreatment}
	for _, cond := range f.Conditions {
		for _, p := range cond.Partitions {
			if _, ok := seen[p.Treatment]; ok {
				continue
			}
			seen[p.Treatment] = struct{}{}
			treatments = append(treatments, p.Treatment)
		}
	}

	var configs map[string]string
	if len(f.Configurations) > 0 {
		configs = make(map[string]string, len(f.Configurations))
		for k, v := range f.Configurations {
			configs[k] = v
		}
	}

	return &SplitView{
		Name:              f.Name,
		TrafficAllocation: f.TrafficAllocation,
		ChangeNumber:      f.ChangeNumber,
		Killed:            f.Killed,
		DefaultTreatment:  f.DefaultTreatment,
		Treatments:        treatments,
		Configs:           configs,
		Sets:              append([]string{}, f.Sets...),
	}
}
