package topology

import (
	"time"

	"github.com/glennswest/microsdn/pkg/network"
)

// Demo returns a three-tier intent: frontend, backend and database segments
// chained by overlays, with allow rules for web, app and database traffic.
func Demo() *network.TopologyIntent {
	return &network.TopologyIntent{
		Version: "1.0.0",
		Name:    "demo-three-tier",
		Segments: []network.Segment{
			{
				Name:       "frontend",
				CIDR:       "10.10.0.0/24",
				Role:       network.RoleFrontend,
				Zone:       network.ZoneDMZ,
				DNSServers: []string{"10.10.0.1"},
				DHCP:       network.DHCP{Enabled: true, RangeStart: "10.10.0.100", RangeEnd: "10.10.0.200"},
			},
			{
				Name: "backend",
				CIDR: "10.20.0.0/24",
				Role: network.RoleBackend,
				Zone: network.ZoneInternal,
			},
			{
				Name: "database",
				CIDR: "10.30.0.0/24",
				Role: network.RoleDatabase,
				Zone: network.ZoneTrusted,
			},
		},
		Overlays: []network.OverlayLink{
			{Src: "frontend", Dst: "backend", Encapsulation: network.EncapVXLAN},
			{Src: "backend", Dst: "database", Encapsulation: network.EncapVXLAN},
		},
		Policies: []network.PolicyRule{
			{
				Name:       "allow-web",
				Priority:   100,
				Action:     network.ActionAllow,
				SrcSegment: "frontend",
				Protocol:   network.ProtocolTCP,
				Port:       80,
			},
			{
				Name:       "allow-app",
				Priority:   200,
				Action:     network.ActionAllow,
				SrcSegment: "frontend",
				DstSegment: "backend",
				Protocol:   network.ProtocolTCP,
				Port:       8080,
			},
			{
				Name:       "allow-db",
				Priority:   300,
				Action:     network.ActionAllow,
				SrcSegment: "backend",
				DstSegment: "database",
				Protocol:   network.ProtocolTCP,
				Port:       5432,
				Log:        true,
			},
		},
		Metadata:  map[string]string{"source": "demo"},
		CreatedAt: time.Now().UTC(),
	}
}
