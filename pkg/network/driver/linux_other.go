//go:build !linux

package driver

import (
	"context"

	"go.uber.org/zap"

	nw "github.com/glennswest/microsdn/pkg/network"
)

// Linux is unavailable on this platform. Every query returns
// nw.ErrNotSupported, which the reconciler reports as unknown.
type Linux struct{}

func NewLinux(_ *zap.SugaredLogger) *Linux {
	return &Linux{}
}

func (d *Linux) ListBridges(_ context.Context) ([]nw.LinkInfo, error) {
	return nil, nw.ErrNotSupported
}

func (d *Linux) ListOverlayDevices(_ context.Context) ([]nw.LinkInfo, error) {
	return nil, nw.ErrNotSupported
}

func (d *Linux) ListRoutes(_ context.Context) ([]nw.RouteInfo, error) {
	return nil, nw.ErrNotSupported
}

var _ nw.Introspector = (*Linux)(nil)
