package network

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when a driver does not support an operation.
var ErrNotSupported = errors.New("operation not supported by this driver")

// Executor runs compiled commands. It is the only boundary through which
// the controller changes OS state.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (ExecResult, error)
}

// ExecResult is the outcome of one executed command. A non-zero ExitCode
// with a nil error means the command ran and failed.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Introspector lists live networking state (netlink, a remote agent, etc).
// The reconciler calls these methods instead of talking to a specific
// backend directly.
type Introspector interface {
	ListBridges(ctx context.Context) ([]LinkInfo, error)
	ListOverlayDevices(ctx context.Context) ([]LinkInfo, error)
	ListRoutes(ctx context.Context) ([]RouteInfo, error)
}

// LinkInfo describes a network device returned by an Introspector.
type LinkInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`             // "bridge", "vxlan", "geneve", "gretap", "vlan"
	Master string `json:"master,omitempty"` // bridge this device is enslaved to
	Up     bool   `json:"up"`
	MTU    int    `json:"mtu,omitempty"`
}

// RouteInfo describes a route returned by an Introspector.
type RouteInfo struct {
	Destination string `json:"destination"` // CIDR, "default" for the default route
	Gateway     string `json:"gateway,omitempty"`
	Device      string `json:"device,omitempty"`
}
