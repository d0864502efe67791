package network

import "time"

// SegmentRole classifies what a segment carries.
type SegmentRole string

const (
	RoleFrontend   SegmentRole = "frontend"
	RoleBackend    SegmentRole = "backend"
	RoleDatabase   SegmentRole = "database"
	RoleStorage    SegmentRole = "storage"
	RoleManagement SegmentRole = "management"
	RoleExternal   SegmentRole = "external"
)

// Valid reports whether r is a known role.
func (r SegmentRole) Valid() bool {
	switch r {
	case RoleFrontend, RoleBackend, RoleDatabase, RoleStorage, RoleManagement, RoleExternal:
		return true
	}
	return false
}

// InternetFacing reports whether segments with this role are reachable from
// outside the cluster. Bridges for these roles run spanning tree.
func (r SegmentRole) InternetFacing() bool {
	switch r {
	case RoleFrontend, RoleExternal:
		return true
	case RoleBackend, RoleDatabase, RoleStorage, RoleManagement:
		return false
	}
	return false
}

// SecurityZone is the trust level assigned to a segment.
type SecurityZone string

const (
	ZoneUntrusted  SecurityZone = "untrusted"
	ZoneDMZ        SecurityZone = "dmz"
	ZoneInternal   SecurityZone = "internal"
	ZoneManagement SecurityZone = "management"
	ZoneStorage    SecurityZone = "storage"
	ZoneTrusted    SecurityZone = "trusted"
)

// Valid reports whether z is a known zone.
func (z SecurityZone) Valid() bool {
	switch z {
	case ZoneUntrusted, ZoneDMZ, ZoneInternal, ZoneManagement, ZoneStorage, ZoneTrusted:
		return true
	}
	return false
}

// Encapsulation is the tunnel type of an overlay link.
type Encapsulation string

const (
	EncapVXLAN  Encapsulation = "vxlan"
	EncapGeneve Encapsulation = "geneve"
	EncapGRE    Encapsulation = "gre"
	EncapVLAN   Encapsulation = "vlan"
)

// Valid reports whether e is a known encapsulation.
func (e Encapsulation) Valid() bool {
	switch e {
	case EncapVXLAN, EncapGeneve, EncapGRE, EncapVLAN:
		return true
	}
	return false
}

// DefaultMTU is the MTU used when an overlay does not set one. It leaves room
// for the encapsulation header on a 1500-byte underlay.
func (e Encapsulation) DefaultMTU() int {
	switch e {
	case EncapVXLAN, EncapGeneve:
		return 1450
	case EncapGRE:
		return 1462
	case EncapVLAN:
		return 1500
	}
	return 1500
}

// TunnelIDRange returns the inclusive range of tunnel ids the encapsulation
// can carry.
func (e Encapsulation) TunnelIDRange() (min, max int) {
	switch e {
	case EncapVLAN:
		return 1, 4094
	case EncapVXLAN, EncapGeneve, EncapGRE:
		return 1, 1<<24 - 1
	}
	return 1, 1<<24 - 1
}

// PolicyAction is what a firewall rule does with matching traffic.
type PolicyAction string

const (
	ActionAllow  PolicyAction = "allow"
	ActionDeny   PolicyAction = "deny"
	ActionDrop   PolicyAction = "drop"
	ActionLog    PolicyAction = "log"
	ActionReject PolicyAction = "reject"
)

// Valid reports whether a is a known action.
func (a PolicyAction) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionDrop, ActionLog, ActionReject:
		return true
	}
	return false
}

// Protocol is the L4 protocol matched by a policy. The empty value matches
// any protocol.
type Protocol string

const (
	ProtocolAny    Protocol = ""
	ProtocolTCP    Protocol = "tcp"
	ProtocolUDP    Protocol = "udp"
	ProtocolICMP   Protocol = "icmp"
	ProtocolICMPv6 Protocol = "icmpv6"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolAny, ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolICMPv6:
		return true
	}
	return false
}

// HasPorts reports whether port matching makes sense for p.
func (p Protocol) HasPorts() bool {
	switch p {
	case ProtocolAny, ProtocolTCP, ProtocolUDP:
		return true
	case ProtocolICMP, ProtocolICMPv6:
		return false
	}
	return false
}

// DHCP configures address handout on a segment.
type DHCP struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	RangeStart string `json:"rangeStart,omitempty" yaml:"rangeStart,omitempty"`
	RangeEnd   string `json:"rangeEnd,omitempty" yaml:"rangeEnd,omitempty"`
}

// Segment is an isolated network slice (maps to a bridge on the host).
type Segment struct {
	Name       string            `json:"name" yaml:"name"`
	CIDR       string            `json:"cidr" yaml:"cidr"`
	Role       SegmentRole       `json:"role" yaml:"role"`
	VLAN       int               `json:"vlan,omitempty" yaml:"vlan,omitempty"`             // 0 = untagged
	OverlayID  int               `json:"overlayId,omitempty" yaml:"overlayId,omitempty"`   // 0 = none
	Gateway    string            `json:"gateway,omitempty" yaml:"gateway,omitempty"`       // first host if empty
	DNSServers []string          `json:"dnsServers,omitempty" yaml:"dnsServers,omitempty"` // plain addresses
	DHCP       DHCP              `json:"dhcp" yaml:"dhcp"`
	Zone       SecurityZone      `json:"zone,omitempty" yaml:"zone,omitempty"`
	Tags       map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// OverlayLink is an encapsulated tunnel between two segments.
type OverlayLink struct {
	ID              string        `json:"id,omitempty" yaml:"id,omitempty"` // "src-dst" if empty
	Src             string        `json:"src" yaml:"src"`
	Dst             string        `json:"dst" yaml:"dst"`
	Encapsulation   Encapsulation `json:"encapsulation,omitempty" yaml:"encapsulation,omitempty"`
	TunnelID        int           `json:"tunnelId,omitempty" yaml:"tunnelId,omitempty"` // derived if 0
	MTU             int           `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	AllowedLabels   []string      `json:"allowedLabels,omitempty" yaml:"allowedLabels,omitempty"`
	MulticastGroup  string        `json:"multicastGroup,omitempty" yaml:"multicastGroup,omitempty"`
	RemoteEndpoints []string      `json:"remoteEndpoints,omitempty" yaml:"remoteEndpoints,omitempty"`
}

// PolicyRule is a single firewall policy between segments or labels.
type PolicyRule struct {
	ID          string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string       `json:"name" yaml:"name"`
	Priority    int          `json:"priority" yaml:"priority"` // lower = evaluated first
	Action      PolicyAction `json:"action" yaml:"action"`
	SrcSegment  string       `json:"srcSegment,omitempty" yaml:"srcSegment,omitempty"`
	DstSegment  string       `json:"dstSegment,omitempty" yaml:"dstSegment,omitempty"`
	SrcLabels   []string     `json:"srcLabels,omitempty" yaml:"srcLabels,omitempty"`
	DstLabels   []string     `json:"dstLabels,omitempty" yaml:"dstLabels,omitempty"`
	Protocol    Protocol     `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Port        int          `json:"port,omitempty" yaml:"port,omitempty"`
	PortRange   string       `json:"portRange,omitempty" yaml:"portRange,omitempty"` // "8000-8090"
	Log         bool         `json:"log,omitempty" yaml:"log,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// TopologyIntent is the declarative desired state submitted by an operator.
type TopologyIntent struct {
	Version   string            `json:"version" yaml:"version"`
	Name      string            `json:"name" yaml:"name"`
	Segments  []Segment         `json:"segments" yaml:"segments"`
	Overlays  []OverlayLink     `json:"overlays,omitempty" yaml:"overlays,omitempty"`
	Policies  []PolicyRule      `json:"policies,omitempty" yaml:"policies,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt" yaml:"createdAt"`
}

// SegmentNames returns segment names in declaration order.
func (t *TopologyIntent) SegmentNames() []string {
	out := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		out[i] = s.Name
	}
	return out
}

// OverlayIDs returns the (normalized) overlay ids in declaration order.
func (t *TopologyIntent) OverlayIDs() []string {
	out := make([]string, len(t.Overlays))
	for i, o := range t.Overlays {
		out[i] = o.normalized().ID
	}
	return out
}

// normalized returns a copy of the segment with defaults filled in. The
// gateway is left alone here because deriving it needs a parsed CIDR.
func (s Segment) normalized() Segment {
	if s.Zone == "" {
		s.Zone = ZoneInternal
	}
	return s
}

func (o OverlayLink) normalized() OverlayLink {
	if o.ID == "" {
		o.ID = o.Src + "-" + o.Dst
	}
	if o.Encapsulation == "" {
		o.Encapsulation = EncapVXLAN
	}
	if o.MTU == 0 {
		o.MTU = o.Encapsulation.DefaultMTU()
	}
	return o
}

func (p PolicyRule) normalized() PolicyRule {
	if p.ID == "" {
		p.ID = p.Name
	}
	return p
}
