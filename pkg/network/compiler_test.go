package network

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileDeterministic(t *testing.T) {
	a := CompileAt(threeTier(), time.Unix(1, 0))
	b := CompileAt(threeTier(), time.Unix(2, 0))

	if diff := cmp.Diff(a, b, cmpopts.IgnoreFields(CompiledTopology{}, "CompiledAt")); diff != "" {
		t.Fatalf("compile not deterministic (-first +second):\n%s", diff)
	}
}

func TestIntentHashStability(t *testing.T) {
	base := HashIntent(threeTier())

	d, err := digest.Parse(base)
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256, d.Algorithm())

	t.Run("version bump", func(t *testing.T) {
		in := threeTier()
		in.Version = "2.0.0"
		assert.Equal(t, base, HashIntent(in))
	})
	t.Run("name and metadata", func(t *testing.T) {
		in := threeTier()
		in.Name = "renamed"
		in.Metadata = map[string]string{"owner": "netops"}
		in.CreatedAt = time.Now()
		assert.Equal(t, base, HashIntent(in))
	})
	t.Run("explicit defaults", func(t *testing.T) {
		in := threeTier()
		in.Segments[1].Zone = ZoneInternal
		in.Segments[1].Gateway = "10.20.0.1"
		in.Overlays[0].Encapsulation = EncapVXLAN
		in.Overlays[0].MTU = 1450
		in.Overlays[0].ID = "frontend-backend"
		assert.Equal(t, base, HashIntent(in))
	})
	t.Run("unmasked cidr", func(t *testing.T) {
		in := threeTier()
		in.Segments[0].CIDR = "10.10.0.9/24"
		assert.Equal(t, base, HashIntent(in))
	})
	t.Run("cidr change", func(t *testing.T) {
		in := threeTier()
		in.Segments[2].CIDR = "10.31.0.0/24"
		assert.NotEqual(t, base, HashIntent(in))
	})
	t.Run("policy change", func(t *testing.T) {
		in := threeTier()
		in.Policies[0].Port = 443
		assert.NotEqual(t, base, HashIntent(in))
	})
}

func TestCompileArtifacts(t *testing.T) {
	c := Compile(threeTier())

	assert.Equal(t, HashIntent(threeTier()), c.IntentHash)
	assert.Equal(t, []string{"sbr-frontend", "sbr-backend", "sbr-database"}, c.BridgeNames())
	assert.Equal(t, []string{"frontend", "backend", "database"}, c.SegmentNames())
	assert.Equal(t, []string{"frontend-backend", "backend-database"}, c.OverlayIDs())
	assert.Equal(t, 3, c.PolicyCount())

	fe := c.Bridges[0]
	assert.Equal(t, "10.10.0.1", fe.Gateway)
	assert.Equal(t, 24, fe.PrefixLen)
	assert.True(t, fe.STP, "frontend bridges run STP")
	assert.False(t, c.Bridges[1].STP)

	require.Len(t, c.OverlayDevices, 2)
	ov := c.OverlayDevices[0]
	assert.Equal(t, OverlayDeviceName("frontend", "backend"), ov.Name)
	assert.Equal(t, "sbr-frontend", ov.Bridge)
	assert.Equal(t, EncapVXLAN, ov.Encapsulation)
	assert.Equal(t, 1450, ov.MTU)
	assert.Equal(t, DeriveTunnelID("frontend", "backend", EncapVXLAN), ov.TunnelID)
}

func TestCompileCommandPlan(t *testing.T) {
	c := Compile(threeTier())
	lines := c.CommandLines()

	// Three commands per bridge, then three per overlay device.
	require.Len(t, lines, 3*3+2*3)

	assert.Equal(t, "ip link add sbr-frontend type bridge stp_state 1", lines[0])
	assert.Equal(t, "ip link set sbr-frontend up", lines[1])
	assert.Equal(t, "ip addr add 10.10.0.1/24 dev sbr-frontend", lines[2])
	assert.Equal(t, "ip link add sbr-backend type bridge stp_state 0", lines[3])

	ov := c.OverlayDevices[0]
	assert.Equal(t,
		"ip link add "+ov.Name+" mtu 1450 type vxlan id "+strconv.Itoa(ov.TunnelID)+" dstport 4789",
		lines[9])
	assert.Equal(t, "ip link set "+ov.Name+" master sbr-frontend", lines[10])
	assert.Equal(t, "ip link set "+ov.Name+" up", lines[11])

	bridgeCreates, overlayCreates := 0, 0
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "ip link add sbr-"):
			bridgeCreates++
		case strings.HasPrefix(l, "ip link add sov-"):
			overlayCreates++
		}
	}
	assert.Equal(t, 3, bridgeCreates)
	assert.Equal(t, 2, overlayCreates)
}

func TestCompileOverlayEncapsulations(t *testing.T) {
	tests := []struct {
		name    string
		overlay OverlayLink
		want    string
	}{
		{
			name:    "vxlan multicast",
			overlay: OverlayLink{MulticastGroup: "239.1.1.1", TunnelID: 42},
			want:    "mtu 1450 type vxlan id 42 dstport 4789 group 239.1.1.1 dev sbr-frontend",
		},
		{
			name:    "vxlan unicast",
			overlay: OverlayLink{RemoteEndpoints: []string{"192.0.2.10"}, TunnelID: 42},
			want:    "type vxlan id 42 dstport 4789 remote 192.0.2.10",
		},
		{
			name:    "geneve",
			overlay: OverlayLink{Encapsulation: EncapGeneve, TunnelID: 7, RemoteEndpoints: []string{"192.0.2.11"}},
			want:    "mtu 1450 type geneve id 7 remote 192.0.2.11",
		},
		{
			name:    "gre",
			overlay: OverlayLink{Encapsulation: EncapGRE, TunnelID: 9},
			want:    "mtu 1462 type gretap key 9",
		},
		{
			name:    "vlan",
			overlay: OverlayLink{Encapsulation: EncapVLAN, TunnelID: 300},
			want:    "ip link add link sbr-backend name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := threeTier()
			o := tt.overlay
			o.Src, o.Dst = "frontend", "backend"
			intent.Overlays = []OverlayLink{o}
			require.NoError(t, intent.Validate())

			lines := Compile(intent).CommandLines()
			require.Len(t, lines, 3*3+3)
			assert.Contains(t, lines[9], tt.want)
			assert.Equal(t, "ip link set "+OverlayDeviceName("frontend", "backend")+" master sbr-frontend", lines[10])
		})
	}
}

func TestCompileFirewall(t *testing.T) {
	c := Compile(threeTier())

	require.Len(t, c.FirewallRules, 5)
	assert.Equal(t, "add table inet sdn_fabric", c.FirewallRules[0])
	assert.Contains(t, c.FirewallRules[1], "policy drop")
	assert.Equal(t,
		`add rule inet sdn_fabric forward iifname "sbr-frontend" tcp dport 80 accept comment "allow-web"`,
		c.FirewallRules[2])
	assert.Equal(t,
		`add rule inet sdn_fabric forward iifname "sbr-frontend" oifname "sbr-backend" tcp dport 8080 accept comment "allow-app"`,
		c.FirewallRules[3])

	script := c.FirewallScript()
	assert.True(t, strings.HasSuffix(script, "\n"))
	assert.Equal(t, 5, strings.Count(script, "\n"))
}

func TestCompileFirewallOrdering(t *testing.T) {
	intent := threeTier()
	intent.Policies = []PolicyRule{
		{Name: "late", Priority: 20, Action: ActionDeny},
		{Name: "first-tie", Priority: 10, Action: ActionReject, Protocol: ProtocolICMP},
		{Name: "second-tie", Priority: 10, Action: ActionLog, Protocol: ProtocolUDP, PortRange: "5000-5010"},
		{Name: "any-ports", Priority: 30, Action: ActionAllow, Port: 53},
	}
	require.NoError(t, intent.Validate())

	rules := Compile(intent).FirewallRules[firewallHeaderLines:]
	require.Len(t, rules, 4)

	assert.Equal(t, `add rule inet sdn_fabric forward meta l4proto icmp reject comment "first-tie"`, rules[0])
	assert.Equal(t, `add rule inet sdn_fabric forward udp dport 5000-5010 log prefix "sdn:second-tie " comment "second-tie"`, rules[1])
	assert.Equal(t, `add rule inet sdn_fabric forward drop comment "late"`, rules[2])
	assert.Equal(t, `add rule inet sdn_fabric forward meta l4proto { tcp, udp } th dport 53 accept comment "any-ports"`, rules[3])
}

func TestBridgeName(t *testing.T) {
	assert.Equal(t, "sbr-frontend", BridgeName("frontend"))
	assert.Equal(t, "sbr-abcdefghijk", BridgeName("abcdefghijk"))

	long := BridgeName("a-very-long-segment-name")
	assert.True(t, strings.HasPrefix(long, BridgePrefix))
	assert.Len(t, long, len(BridgePrefix)+10)
	assert.Equal(t, long, BridgeName("a-very-long-segment-name"))

	assert.NotEqual(t, "sbr-has space", BridgeName("has space"))
}

func TestOverlayDeviceName(t *testing.T) {
	a := OverlayDeviceName("frontend", "backend")
	assert.True(t, strings.HasPrefix(a, OverlayPrefix))
	assert.LessOrEqual(t, len(a), 15)
	assert.NotEqual(t, a, OverlayDeviceName("backend", "frontend"))
}

func TestDeriveTunnelID(t *testing.T) {
	pairs := [][2]string{{"a", "b"}, {"frontend", "backend"}, {"x", "y"}, {"storage", "mgmt"}}
	for _, p := range pairs {
		for _, e := range []Encapsulation{EncapVXLAN, EncapGeneve, EncapGRE, EncapVLAN} {
			id := DeriveTunnelID(p[0], p[1], e)
			lo, hi := e.TunnelIDRange()
			assert.GreaterOrEqual(t, id, lo)
			assert.LessOrEqual(t, id, hi)
			assert.Equal(t, id, DeriveTunnelID(p[0], p[1], e), "tunnel id must be stable")
		}
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ip link set sbr-a up", Cmd("ip", "link", "set", "sbr-a", "up").String())
	assert.Equal(t, `echo "a b" "x;y" ""`, Cmd("echo", "a b", "x;y", "").String())
}
