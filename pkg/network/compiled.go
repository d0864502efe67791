package network

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Command is a single OS command as an argument vector. Arguments are never
// joined into a shell string for execution.
type Command struct {
	Args []string `json:"args" yaml:"args"`
}

// Cmd builds a Command from its arguments.
func Cmd(args ...string) Command {
	return Command{Args: args}
}

// String renders the command for display, quoting arguments that would not
// survive a shell round trip.
func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$`;&|<>(){}*?#") {
			a = strconv.Quote(a)
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

// BridgeSpec is the compiled form of a segment.
type BridgeSpec struct {
	Name      string `json:"name" yaml:"name"`
	Segment   string `json:"segment" yaml:"segment"`
	CIDR      string `json:"cidr" yaml:"cidr"`
	Gateway   string `json:"gateway" yaml:"gateway"`
	PrefixLen int    `json:"prefixLen" yaml:"prefixLen"`
	VLAN      int    `json:"vlan,omitempty" yaml:"vlan,omitempty"`
	STP       bool   `json:"stp" yaml:"stp"`
}

// OverlayDeviceSpec is the compiled form of an overlay link.
type OverlayDeviceSpec struct {
	Name            string        `json:"name" yaml:"name"`
	OverlayID       string        `json:"overlayId" yaml:"overlayId"`
	Src             string        `json:"src" yaml:"src"`
	Dst             string        `json:"dst" yaml:"dst"`
	Bridge          string        `json:"bridge" yaml:"bridge"`         // local (src) bridge
	PeerBridge      string        `json:"peerBridge" yaml:"peerBridge"` // vlan parent
	Encapsulation   Encapsulation `json:"encapsulation" yaml:"encapsulation"`
	TunnelID        int           `json:"tunnelId" yaml:"tunnelId"`
	MTU             int           `json:"mtu" yaml:"mtu"`
	MulticastGroup  string        `json:"multicastGroup,omitempty" yaml:"multicastGroup,omitempty"`
	RemoteEndpoints []string      `json:"remoteEndpoints,omitempty" yaml:"remoteEndpoints,omitempty"`
}

// CompiledTopology is the deterministic lowering of an intent into OS
// artifacts. It is never modified after Compile returns.
type CompiledTopology struct {
	IntentHash     string              `json:"intentHash" yaml:"intentHash"`
	Bridges        []BridgeSpec        `json:"bridges" yaml:"bridges"`
	OverlayDevices []OverlayDeviceSpec `json:"overlayDevices" yaml:"overlayDevices"`
	FirewallRules  []string            `json:"firewallRules" yaml:"firewallRules"`
	Commands       []Command           `json:"commands" yaml:"commands"`
	CompiledAt     time.Time           `json:"compiledAt" yaml:"compiledAt"`
}

// Clone returns a deep copy of c.
func (c *CompiledTopology) Clone() *CompiledTopology {
	if c == nil {
		return nil
	}
	out := *c
	out.Bridges = slices.Clone(c.Bridges)
	out.OverlayDevices = make([]OverlayDeviceSpec, len(c.OverlayDevices))
	for i, d := range c.OverlayDevices {
		d.RemoteEndpoints = slices.Clone(d.RemoteEndpoints)
		out.OverlayDevices[i] = d
	}
	out.FirewallRules = slices.Clone(c.FirewallRules)
	out.Commands = make([]Command, len(c.Commands))
	for i, cmd := range c.Commands {
		out.Commands[i] = Command{Args: slices.Clone(cmd.Args)}
	}
	return &out
}

// CommandLines returns the command plan rendered for display.
func (c *CompiledTopology) CommandLines() []string {
	out := make([]string, len(c.Commands))
	for i, cmd := range c.Commands {
		out[i] = cmd.String()
	}
	return out
}

// BridgeNames returns the expected bridge names in compile order.
func (c *CompiledTopology) BridgeNames() []string {
	out := make([]string, len(c.Bridges))
	for i, b := range c.Bridges {
		out[i] = b.Name
	}
	return out
}

// OverlayDeviceNames returns the expected overlay device names in compile order.
func (c *CompiledTopology) OverlayDeviceNames() []string {
	out := make([]string, len(c.OverlayDevices))
	for i, d := range c.OverlayDevices {
		out[i] = d.Name
	}
	return out
}

// SegmentNames returns the segment names in compile order.
func (c *CompiledTopology) SegmentNames() []string {
	out := make([]string, len(c.Bridges))
	for i, b := range c.Bridges {
		out[i] = b.Segment
	}
	return out
}

// OverlayIDs returns the overlay ids in compile order.
func (c *CompiledTopology) OverlayIDs() []string {
	out := make([]string, len(c.OverlayDevices))
	for i, d := range c.OverlayDevices {
		out[i] = d.OverlayID
	}
	return out
}

// PolicyCount returns the number of policy rules, excluding the table and
// chain header lines.
func (c *CompiledTopology) PolicyCount() int {
	if n := len(c.FirewallRules) - firewallHeaderLines; n > 0 {
		return n
	}
	return 0
}

// FirewallScript joins the firewall rules into an nft script.
func (c *CompiledTopology) FirewallScript() string {
	return strings.Join(c.FirewallRules, "\n") + "\n"
}
