package network

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/glennswest/microsdn/pkg/network/ipam"
)

// Device naming convention. Ownership of live devices is inferred from
// these prefixes alone.
const (
	BridgePrefix  = "sbr-"
	OverlayPrefix = "sov-"

	// FirewallTable is the nft table holding all compiled policy rules.
	FirewallTable = "sdn_fabric"

	maxIfNameLen = 15 // IFNAMSIZ - 1
	vxlanPort    = "4789"
)

// BridgeName returns the bridge name for a segment. Names that would not fit
// in a Linux interface name fall back to a short content hash.
func BridgeName(segment string) string {
	name := BridgePrefix + segment
	if len(name) <= maxIfNameLen && !strings.ContainsAny(segment, "/: \t\n") {
		return name
	}
	return BridgePrefix + shortHash(segment)
}

// OverlayDeviceName returns the device name for the overlay from src to dst.
func OverlayDeviceName(src, dst string) string {
	return OverlayPrefix + shortHash(src+"|"+dst)
}

func shortHash(s string) string {
	return digest.FromString(s).Encoded()[:10]
}

// DeriveTunnelID maps an ordered segment pair into the tunnel id range used
// for auto-assigned ids of the given encapsulation. The result is stable
// across runs but two pairs may collide.
func DeriveTunnelID(src, dst string, encap Encapsulation) int {
	h := fnv.New32a()
	h.Write([]byte(src + "|" + dst))
	sum := h.Sum32()

	switch encap {
	case EncapVLAN:
		return 100 + int(sum%3900)
	case EncapVXLAN, EncapGeneve, EncapGRE:
		return 10000 + int(sum%1000000)
	}
	return 10000 + int(sum%1000000)
}

// Compile lowers a validated intent into bridges, overlay devices, firewall
// rules and an ordered command plan. It performs no I/O. The intent must
// have passed Validate; invalid fields are skipped rather than reported.
func Compile(intent *TopologyIntent) *CompiledTopology {
	return CompileAt(intent, time.Now().UTC())
}

// CompileAt is Compile with an explicit compile timestamp.
func CompileAt(intent *TopologyIntent, now time.Time) *CompiledTopology {
	content := canonicalize(intent)

	out := &CompiledTopology{
		IntentHash:     content.hash(),
		Bridges:        make([]BridgeSpec, 0, len(content.Segments)),
		OverlayDevices: make([]OverlayDeviceSpec, 0, len(content.Overlays)),
		CompiledAt:     now,
	}

	for _, s := range content.Segments {
		prefix, err := ipam.ParsePrefix(s.CIDR)
		if err != nil {
			continue
		}
		out.Bridges = append(out.Bridges, BridgeSpec{
			Name:      BridgeName(s.Name),
			Segment:   s.Name,
			CIDR:      prefix.String(),
			Gateway:   s.Gateway,
			PrefixLen: prefix.Bits(),
			VLAN:      s.VLAN,
			STP:       s.Role.InternetFacing(),
		})
	}

	for _, o := range content.Overlays {
		out.OverlayDevices = append(out.OverlayDevices, OverlayDeviceSpec{
			Name:            OverlayDeviceName(o.Src, o.Dst),
			OverlayID:       o.ID,
			Src:             o.Src,
			Dst:             o.Dst,
			Bridge:          BridgeName(o.Src),
			PeerBridge:      BridgeName(o.Dst),
			Encapsulation:   o.Encapsulation,
			TunnelID:        o.TunnelID,
			MTU:             o.MTU,
			MulticastGroup:  o.MulticastGroup,
			RemoteEndpoints: o.RemoteEndpoints,
		})
	}

	out.FirewallRules = compileFirewall(content.Policies)

	for _, b := range out.Bridges {
		out.Commands = append(out.Commands, bridgeCommands(b)...)
	}
	for _, d := range out.OverlayDevices {
		out.Commands = append(out.Commands, overlayCommands(d)...)
	}

	return out
}

// ─── Canonical Content ──────────────────────────────────────────────────────

// intentContent is the part of an intent that determines the compiled
// artifacts. Version, name, metadata and creation time are not part of it,
// so they do not affect the intent hash.
type intentContent struct {
	Segments []Segment     `json:"segments"`
	Overlays []OverlayLink `json:"overlays"`
	Policies []PolicyRule  `json:"policies"`
}

// canonicalize returns the intent content with every default resolved, so
// that spelling out a default explicitly does not change the hash.
func canonicalize(intent *TopologyIntent) intentContent {
	c := intentContent{
		Segments: make([]Segment, 0, len(intent.Segments)),
		Overlays: make([]OverlayLink, 0, len(intent.Overlays)),
		Policies: make([]PolicyRule, 0, len(intent.Policies)),
	}

	for _, s := range intent.Segments {
		s = s.normalized()
		if prefix, err := ipam.ParsePrefix(s.CIDR); err == nil {
			s.CIDR = prefix.String()
			if gw, err := segmentGateway(s, prefix); err == nil {
				s.Gateway = gw.String()
			}
		}
		c.Segments = append(c.Segments, s)
	}

	for _, o := range intent.Overlays {
		o = o.normalized()
		if o.TunnelID == 0 {
			o.TunnelID = DeriveTunnelID(o.Src, o.Dst, o.Encapsulation)
		}
		c.Overlays = append(c.Overlays, o)
	}

	for _, p := range intent.Policies {
		c.Policies = append(c.Policies, p.normalized())
	}

	return c
}

func (c intentContent) hash() string {
	// encoding/json emits map keys sorted, so the encoding is canonical.
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("marshaling intent content: %v", err))
	}
	return digest.FromBytes(raw).String()
}

// HashIntent returns the content hash Compile would assign to intent.
func HashIntent(intent *TopologyIntent) string {
	return canonicalize(intent).hash()
}

// ─── Firewall ───────────────────────────────────────────────────────────────

// firewallHeaderLines is the number of table/chain lines before the rules.
const firewallHeaderLines = 2

func compileFirewall(policies []PolicyRule) []string {
	sorted := make([]PolicyRule, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	rules := []string{
		"add table inet " + FirewallTable,
		"add chain inet " + FirewallTable + " forward { type filter hook forward priority 0 ; policy drop ; }",
	}
	for _, p := range sorted {
		rules = append(rules, firewallRule(p))
	}
	return rules
}

func firewallRule(p PolicyRule) string {
	parts := []string{"add rule inet", FirewallTable, "forward"}

	if p.SrcSegment != "" {
		parts = append(parts, "iifname "+strconv.Quote(BridgeName(p.SrcSegment)))
	}
	if p.DstSegment != "" {
		parts = append(parts, "oifname "+strconv.Quote(BridgeName(p.DstSegment)))
	}
	if m := protocolMatch(p); m != "" {
		parts = append(parts, m)
	}
	if p.Log || p.Action == ActionLog {
		parts = append(parts, "log prefix "+strconv.Quote("sdn:"+p.ID+" "))
	}
	if v := verdict(p.Action); v != "" {
		parts = append(parts, v)
	}
	parts = append(parts, "comment "+strconv.Quote(strings.ReplaceAll(p.Name, `"`, `'`)))

	return strings.Join(parts, " ")
}

func protocolMatch(p PolicyRule) string {
	from, to, err := policyPorts(p)
	if err != nil {
		from = 0
	}
	ports := ""
	if from != 0 {
		ports = strconv.Itoa(from)
		if to != from {
			ports += "-" + strconv.Itoa(to)
		}
	}

	switch p.Protocol {
	case ProtocolTCP, ProtocolUDP:
		if ports != "" {
			return string(p.Protocol) + " dport " + ports
		}
		return "meta l4proto " + string(p.Protocol)
	case ProtocolICMP:
		return "meta l4proto icmp"
	case ProtocolICMPv6:
		return "meta l4proto ipv6-icmp"
	case ProtocolAny:
		if ports != "" {
			return "meta l4proto { tcp, udp } th dport " + ports
		}
	}
	return ""
}

// verdict maps a policy action to its nft verdict. Log rules have no verdict
// so evaluation continues with the next rule.
func verdict(a PolicyAction) string {
	switch a {
	case ActionAllow:
		return "accept"
	case ActionDeny, ActionDrop:
		return "drop"
	case ActionReject:
		return "reject"
	case ActionLog:
		return ""
	}
	return "drop"
}

// ─── Command Plan ───────────────────────────────────────────────────────────

func bridgeCommands(b BridgeSpec) []Command {
	stp := "0"
	if b.STP {
		stp = "1"
	}
	add := []string{"ip", "link", "add", b.Name, "type", "bridge", "stp_state", stp}
	if b.VLAN > 0 {
		add = append(add, "vlan_filtering", "1", "vlan_default_pvid", strconv.Itoa(b.VLAN))
	}

	return []Command{
		{Args: add},
		Cmd("ip", "link", "set", b.Name, "up"),
		Cmd("ip", "addr", "add", b.Gateway+"/"+strconv.Itoa(b.PrefixLen), "dev", b.Name),
	}
}

func overlayCommands(d OverlayDeviceSpec) []Command {
	mtu := strconv.Itoa(d.MTU)
	id := strconv.Itoa(d.TunnelID)

	var add []string
	switch d.Encapsulation {
	case EncapVXLAN:
		add = []string{"ip", "link", "add", d.Name, "mtu", mtu, "type", "vxlan", "id", id, "dstport", vxlanPort}
		if d.MulticastGroup != "" {
			add = append(add, "group", d.MulticastGroup, "dev", d.Bridge)
		} else if len(d.RemoteEndpoints) > 0 {
			add = append(add, "remote", d.RemoteEndpoints[0])
		}
	case EncapGeneve:
		add = []string{"ip", "link", "add", d.Name, "mtu", mtu, "type", "geneve", "id", id}
		if len(d.RemoteEndpoints) > 0 {
			add = append(add, "remote", d.RemoteEndpoints[0])
		}
	case EncapGRE:
		add = []string{"ip", "link", "add", d.Name, "mtu", mtu, "type", "gretap", "key", id}
		if len(d.RemoteEndpoints) > 0 {
			add = append(add, "remote", d.RemoteEndpoints[0])
		}
	case EncapVLAN:
		add = []string{"ip", "link", "add", "link", d.PeerBridge, "name", d.Name, "mtu", mtu, "type", "vlan", "id", id}
	}

	return []Command{
		{Args: add},
		Cmd("ip", "link", "set", d.Name, "master", d.Bridge),
		Cmd("ip", "link", "set", d.Name, "up"),
	}
}
