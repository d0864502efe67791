//go:build linux

package driver

import (
	"net"
	"testing"

	"github.com/vishvananda/netlink"
)

func TestLinkInfo(t *testing.T) {
	names := map[int]string{1: "lo", 4: "sbr-frontend"}

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{
		Name:  "sbr-frontend",
		Index: 4,
		MTU:   1500,
		Flags: net.FlagUp,
	}}
	got := linkInfo(br, names)
	if got.Name != "sbr-frontend" || got.Kind != "bridge" || !got.Up || got.MTU != 1500 || got.Master != "" {
		t.Errorf("bridge linkInfo = %+v", got)
	}

	vx := &netlink.Vxlan{
		LinkAttrs: netlink.LinkAttrs{Name: "sov-0123456789", Index: 7, MasterIndex: 4, MTU: 1450},
		VxlanId:   10042,
	}
	got = linkInfo(vx, names)
	if got.Kind != "vxlan" {
		t.Errorf("expected kind vxlan, got %q", got.Kind)
	}
	if got.Master != "sbr-frontend" {
		t.Errorf("expected master sbr-frontend, got %q", got.Master)
	}
	if got.Up {
		t.Error("link without FlagUp reported as up")
	}
}

func TestIsOverlay(t *testing.T) {
	tests := []struct {
		link netlink.Link
		want bool
	}{
		{&netlink.Vxlan{}, true},
		{&netlink.Geneve{}, true},
		{&netlink.Gretap{}, true},
		{&netlink.Vlan{}, true},
		{&netlink.Bridge{}, false},
		{&netlink.Veth{}, false},
		{&netlink.Dummy{}, false},
	}
	for _, tt := range tests {
		if got := isOverlay(tt.link); got != tt.want {
			t.Errorf("isOverlay(%s) = %v, want %v", tt.link.Type(), got, tt.want)
		}
	}
}

func TestRouteInfo(t *testing.T) {
	names := map[int]string{4: "sbr-backend"}

	_, dst, _ := net.ParseCIDR("10.20.0.0/24")
	got := routeInfo(netlink.Route{Dst: dst, LinkIndex: 4}, names)
	if got.Destination != "10.20.0.0/24" || got.Device != "sbr-backend" || got.Gateway != "" {
		t.Errorf("routeInfo = %+v", got)
	}

	got = routeInfo(netlink.Route{Gw: net.ParseIP("192.168.1.1"), LinkIndex: 9}, names)
	if got.Destination != "default" {
		t.Errorf("expected default route, got %q", got.Destination)
	}
	if got.Gateway != "192.168.1.1" {
		t.Errorf("expected gateway 192.168.1.1, got %q", got.Gateway)
	}
	if got.Device != "" {
		t.Errorf("expected empty device for unknown index, got %q", got.Device)
	}
}
