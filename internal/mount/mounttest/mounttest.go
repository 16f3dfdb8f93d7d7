// Copyright 2024 Canonical Ltd.

// Package mounttest provides an in-memory mount.Factory for tests,
// standing in for the out-of-scope kernel filesystem host library
// (spec.md §1).
package mounttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/canonical/wsfs/internal/mount"
)

// Factory is a mount.Factory that hands out sequential handles and
// records every mount/close call, without touching anything kernel-side.
type Factory struct {
	mu       sync.Mutex
	next     mount.Handle
	mounted  map[string]mount.Handle
	FailName string // Mount on this name always fails, for BAD-path tests.
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{mounted: make(map[string]mount.Handle)}
}

// Mount implements mount.Factory.
func (f *Factory) Mount(_ context.Context, name string, _ mount.Callbacks) (mount.Mountpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if name == f.FailName {
		return nil, fmt.Errorf("mount %q: simulated failure", name)
	}
	if _, ok := f.mounted[name]; ok {
		return nil, fmt.Errorf("mount %q: already mounted", name)
	}
	f.next++
	f.mounted[name] = f.next
	return &mountpoint{factory: f, name: name, handle: f.next}, nil
}

type mountpoint struct {
	factory *Factory
	name    string
	handle  mount.Handle
}

func (m *mountpoint) Handle() mount.Handle { return m.handle }

func (m *mountpoint) Close() error {
	m.factory.mu.Lock()
	defer m.factory.mu.Unlock()
	delete(m.factory.mounted, m.name)
	return nil
}
