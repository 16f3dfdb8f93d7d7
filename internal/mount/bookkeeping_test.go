// Copyright 2024 Canonical Ltd.

package mount_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/wsfs/internal/mount"
)

func TestBookkeepingFactoryAssignsDistinctHandles(t *testing.T) {
	c := qt.New(t)

	f := mount.NewBookkeepingFactory()
	mp1, err := f.Mount(context.Background(), "alpha", nil)
	c.Assert(err, qt.IsNil)
	mp2, err := f.Mount(context.Background(), "beta", nil)
	c.Assert(err, qt.IsNil)

	c.Check(mp1.Handle(), qt.Not(qt.Equals), mp2.Handle())
}

func TestBookkeepingFactoryRejectsDuplicateName(t *testing.T) {
	c := qt.New(t)

	f := mount.NewBookkeepingFactory()
	_, err := f.Mount(context.Background(), "alpha", nil)
	c.Assert(err, qt.IsNil)

	_, err = f.Mount(context.Background(), "alpha", nil)
	c.Assert(err, qt.ErrorMatches, `mount "alpha": already mounted`)
}

func TestBookkeepingFactoryCloseFreesName(t *testing.T) {
	c := qt.New(t)

	f := mount.NewBookkeepingFactory()
	mp, err := f.Mount(context.Background(), "alpha", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(mp.Close(), qt.IsNil)

	_, err = f.Mount(context.Background(), "alpha", nil)
	c.Assert(err, qt.IsNil)
}
