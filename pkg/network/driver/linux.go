//go:build linux

package driver

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	nw "github.com/glennswest/microsdn/pkg/network"
)

// Linux implements nw.Introspector using netlink syscalls.
type Linux struct {
	log *zap.SugaredLogger
}

// NewLinux returns an Introspector backed by Linux netlink.
func NewLinux(log *zap.SugaredLogger) *Linux {
	return &Linux{log: log.Named("linux-driver")}
}

// ─── Links ───────────────────────────────────────────────────────────────────

func (d *Linux) ListBridges(ctx context.Context) ([]nw.LinkInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	names := indexNames(links)

	var out []nw.LinkInfo
	for _, l := range links {
		if _, ok := l.(*netlink.Bridge); ok {
			out = append(out, linkInfo(l, names))
		}
	}
	d.log.Debugw("listed bridges", "count", len(out))
	return out, nil
}

func (d *Linux) ListOverlayDevices(ctx context.Context) ([]nw.LinkInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	names := indexNames(links)

	var out []nw.LinkInfo
	for _, l := range links {
		if isOverlay(l) {
			out = append(out, linkInfo(l, names))
		}
	}
	d.log.Debugw("listed overlay devices", "count", len(out))
	return out, nil
}

func isOverlay(l netlink.Link) bool {
	switch l.(type) {
	case *netlink.Vxlan, *netlink.Geneve, *netlink.Gretap, *netlink.Vlan:
		return true
	}
	return false
}

func indexNames(links []netlink.Link) map[int]string {
	names := make(map[int]string, len(links))
	for _, l := range links {
		names[l.Attrs().Index] = l.Attrs().Name
	}
	return names
}

func linkInfo(l netlink.Link, names map[int]string) nw.LinkInfo {
	attrs := l.Attrs()
	info := nw.LinkInfo{
		Name: attrs.Name,
		Kind: l.Type(),
		Up:   attrs.Flags&net.FlagUp != 0,
		MTU:  attrs.MTU,
	}
	if attrs.MasterIndex > 0 {
		info.Master = names[attrs.MasterIndex]
	}
	return info
}

// ─── Routes ──────────────────────────────────────────────────────────────────

func (d *Linux) ListRoutes(ctx context.Context) ([]nw.RouteInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	names := indexNames(links)

	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlink route list: %w", err)
	}

	out := make([]nw.RouteInfo, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeInfo(r, names))
	}
	d.log.Debugw("listed routes", "count", len(out))
	return out, nil
}

func routeInfo(r netlink.Route, names map[int]string) nw.RouteInfo {
	info := nw.RouteInfo{
		Destination: "default",
		Device:      names[r.LinkIndex],
	}
	if r.Dst != nil {
		info.Destination = r.Dst.String()
	}
	if r.Gw != nil {
		info.Gateway = r.Gw.String()
	}
	return info
}

// Ensure Linux implements Introspector at compile time.
var _ nw.Introspector = (*Linux)(nil)
