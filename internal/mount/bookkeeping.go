// Copyright 2024 Canonical Ltd.

package mount

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"
)

// BookkeepingFactory is the Factory shipped with this module's
// reference binary (cmd/wsfsd). It hands out sequential Handles and
// logs every mount, but never actually registers anything with
// the kernel: the real kernel filesystem host library is an external
// collaborator out of scope for this system (spec.md §1), so a
// production deployment is expected to supply its own Factory backed
// by that library and wire it in place of this one.
type BookkeepingFactory struct {
	mu      sync.Mutex
	next    Handle
	mounted map[string]Handle
}

// NewBookkeepingFactory returns an empty BookkeepingFactory.
func NewBookkeepingFactory() *BookkeepingFactory {
	return &BookkeepingFactory{mounted: make(map[string]Handle)}
}

// Mount implements Factory.
func (f *BookkeepingFactory) Mount(ctx context.Context, name string, _ Callbacks) (Mountpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.mounted[name]; ok {
		return nil, fmt.Errorf("mount %q: already mounted", name)
	}
	f.next++
	f.mounted[name] = f.next
	zapctx.Info(ctx, "registered filesystem", zap.String("name", name), zap.Uint64("handle", uint64(f.next)))
	return &bookkeepingMountpoint{factory: f, name: name, handle: f.next}, nil
}

type bookkeepingMountpoint struct {
	factory *BookkeepingFactory
	name    string
	handle  Handle
}

func (m *bookkeepingMountpoint) Handle() Handle { return m.handle }

func (m *bookkeepingMountpoint) Close() error {
	m.factory.mu.Lock()
	defer m.factory.mu.Unlock()
	delete(m.factory.mounted, m.name)
	return nil
}
