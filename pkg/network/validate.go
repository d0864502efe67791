package network

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/glennswest/microsdn/pkg/network/ipam"
)

// ValidationError describes one problem with an intent.
type ValidationError struct {
	Field   string // e.g. "segments[backend].cidr"
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors flattens an error returned by Validate into its messages.
func ValidationErrors(err error) []string {
	errs := multierr.Errors(err)
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

// Validate checks referential integrity and address-space consistency of the
// intent. It returns every problem found, combined with multierr, or nil.
func (t *TopologyIntent) Validate() error {
	var errs error

	known := make(map[string]bool, len(t.Segments))
	space := ipam.NewSpace()

	for i, s := range t.Segments {
		field := fmt.Sprintf("segments[%d]", i)
		if s.Name != "" {
			field = fmt.Sprintf("segments[%s]", s.Name)
		}

		dup := false
		if s.Name == "" {
			errs = multierr.Append(errs, invalid(field, "name is required"))
		} else if known[s.Name] {
			errs = multierr.Append(errs, invalid(field, "duplicate segment name %q", s.Name))
			dup = true
		} else {
			known[s.Name] = true
		}

		errs = multierr.Append(errs, validateSegment(field, s.normalized()))

		prefix, err := ipam.ParsePrefix(s.CIDR)
		if err != nil || dup || s.Name == "" {
			continue
		}
		for _, other := range space.Add(s.Name, prefix) {
			op, _ := space.Get(other)
			errs = multierr.Append(errs, invalid(field,
				"CIDR %s of segment %q overlaps CIDR %s of segment %q", prefix, s.Name, op, other))
		}
	}

	overlayIDs := make(map[string]bool, len(t.Overlays))
	devices := make(map[string]string, len(t.Overlays)) // device name -> overlay id
	for i, raw := range t.Overlays {
		o := raw.normalized()
		field := fmt.Sprintf("overlays[%s]", o.ID)
		if raw.ID == "" && (raw.Src == "" || raw.Dst == "") {
			field = fmt.Sprintf("overlays[%d]", i)
		}

		if overlayIDs[o.ID] {
			errs = multierr.Append(errs, invalid(field, "duplicate overlay id %q", o.ID))
		}
		overlayIDs[o.ID] = true

		if !known[o.Src] {
			errs = multierr.Append(errs, invalid(field+".src", "unknown segment %q", o.Src))
		}
		if !known[o.Dst] {
			errs = multierr.Append(errs, invalid(field+".dst", "unknown segment %q", o.Dst))
		}
		if o.Src != "" && o.Src == o.Dst {
			errs = multierr.Append(errs, invalid(field, "overlay connects segment %q to itself", o.Src))
		}
		if o.Src != "" && o.Dst != "" {
			// One device per ordered segment pair.
			dev := OverlayDeviceName(o.Src, o.Dst)
			if prev, ok := devices[dev]; ok {
				errs = multierr.Append(errs, invalid(field,
					"overlay %s -> %s maps to device %s already used by overlay %q", o.Src, o.Dst, dev, prev))
			} else {
				devices[dev] = o.ID
			}
		}
		errs = multierr.Append(errs, validateOverlay(field, o))
	}

	for i, raw := range t.Policies {
		p := raw.normalized()
		field := fmt.Sprintf("policies[%d]", i)
		if p.ID != "" {
			field = fmt.Sprintf("policies[%s]", p.ID)
		}

		if p.SrcSegment != "" && !known[p.SrcSegment] {
			errs = multierr.Append(errs, invalid(field+".srcSegment", "unknown segment %q", p.SrcSegment))
		}
		if p.DstSegment != "" && !known[p.DstSegment] {
			errs = multierr.Append(errs, invalid(field+".dstSegment", "unknown segment %q", p.DstSegment))
		}
		// Labels are not enforced by the firewall, so a label-only side
		// would compile to a rule matching every interface.
		if len(p.SrcLabels) > 0 && p.SrcSegment == "" {
			errs = multierr.Append(errs, invalid(field+".srcLabels", "label selectors need srcSegment to scope the rule"))
		}
		if len(p.DstLabels) > 0 && p.DstSegment == "" {
			errs = multierr.Append(errs, invalid(field+".dstLabels", "label selectors need dstSegment to scope the rule"))
		}
		errs = multierr.Append(errs, validatePolicy(field, p))
	}

	return errs
}

func validateSegment(field string, s Segment) error {
	var errs error

	if !s.Role.Valid() {
		errs = multierr.Append(errs, invalid(field+".role", "unknown role %q", s.Role))
	}
	if !s.Zone.Valid() {
		errs = multierr.Append(errs, invalid(field+".zone", "unknown security zone %q", s.Zone))
	}
	if s.VLAN < 0 || s.VLAN > 4094 {
		errs = multierr.Append(errs, invalid(field+".vlan", "VLAN id %d out of range 1-4094", s.VLAN))
	}
	for _, dns := range s.DNSServers {
		if _, err := netip.ParseAddr(dns); err != nil {
			errs = multierr.Append(errs, invalid(field+".dnsServers", "invalid address %q", dns))
		}
	}

	prefix, err := ipam.ParsePrefix(s.CIDR)
	if err != nil {
		return multierr.Append(errs, invalid(field+".cidr", "%v", err))
	}

	if _, err := segmentGateway(s, prefix); err != nil {
		errs = multierr.Append(errs, invalid(field+".gateway", "%v", err))
	}

	if s.DHCP.RangeStart != "" || s.DHCP.RangeEnd != "" {
		start, serr := netip.ParseAddr(s.DHCP.RangeStart)
		end, eerr := netip.ParseAddr(s.DHCP.RangeEnd)
		switch {
		case serr != nil || eerr != nil:
			errs = multierr.Append(errs, invalid(field+".dhcp", "invalid range %q-%q", s.DHCP.RangeStart, s.DHCP.RangeEnd))
		default:
			if err := ipam.RangeWithin(prefix, start, end); err != nil {
				errs = multierr.Append(errs, invalid(field+".dhcp", "%v", err))
			}
		}
	}

	return errs
}

// segmentGateway returns the explicit gateway of s, or the first usable host
// of its prefix. The result always lies inside the prefix.
func segmentGateway(s Segment, prefix netip.Prefix) (netip.Addr, error) {
	if s.Gateway == "" {
		return ipam.FirstHost(prefix)
	}
	gw, err := netip.ParseAddr(s.Gateway)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid gateway %q", s.Gateway)
	}
	if !ipam.Contains(prefix, gw) {
		return netip.Addr{}, fmt.Errorf("gateway %s is outside %s", gw, prefix)
	}
	return gw, nil
}

func validateOverlay(field string, o OverlayLink) error {
	var errs error

	if !o.Encapsulation.Valid() {
		return invalid(field+".encapsulation", "unknown encapsulation %q", o.Encapsulation)
	}
	if o.TunnelID != 0 {
		lo, hi := o.Encapsulation.TunnelIDRange()
		if o.TunnelID < lo || o.TunnelID > hi {
			errs = multierr.Append(errs, invalid(field+".tunnelId",
				"tunnel id %d out of range %d-%d for %s", o.TunnelID, lo, hi, o.Encapsulation))
		}
	}
	if o.MTU < 576 || o.MTU > 9000 {
		errs = multierr.Append(errs, invalid(field+".mtu", "MTU %d out of range 576-9000", o.MTU))
	}
	if o.MulticastGroup != "" {
		g, err := netip.ParseAddr(o.MulticastGroup)
		if err != nil || !g.IsMulticast() {
			errs = multierr.Append(errs, invalid(field+".multicastGroup", "%q is not a multicast address", o.MulticastGroup))
		}
	}
	for _, ep := range o.RemoteEndpoints {
		if _, err := netip.ParseAddr(ep); err != nil {
			errs = multierr.Append(errs, invalid(field+".remoteEndpoints", "invalid address %q", ep))
		}
	}
	return errs
}

func validatePolicy(field string, p PolicyRule) error {
	var errs error

	if p.Name == "" {
		errs = multierr.Append(errs, invalid(field+".name", "name is required"))
	}
	if !p.Action.Valid() {
		errs = multierr.Append(errs, invalid(field+".action", "unknown action %q", p.Action))
	}
	if !p.Protocol.Valid() {
		return multierr.Append(errs, invalid(field+".protocol", "unknown protocol %q", p.Protocol))
	}
	if _, _, err := policyPorts(p); err != nil {
		errs = multierr.Append(errs, invalid(field+".port", "%v", err))
	}
	return errs
}

// policyPorts returns the destination port range of p. from == 0 means the
// policy has no port match.
func policyPorts(p PolicyRule) (from, to int, err error) {
	switch {
	case p.Port != 0 && p.PortRange != "":
		return 0, 0, fmt.Errorf("port and portRange are mutually exclusive")
	case p.Port != 0:
		from, to = p.Port, p.Port
	case p.PortRange != "":
		lo, hi, ok := strings.Cut(p.PortRange, "-")
		if !ok {
			return 0, 0, fmt.Errorf("invalid port range %q", p.PortRange)
		}
		if from, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q", p.PortRange)
		}
		if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q", p.PortRange)
		}
	default:
		return 0, 0, nil
	}

	if from < 1 || to > 65535 || from > to {
		return 0, 0, fmt.Errorf("port range %d-%d out of bounds", from, to)
	}
	if !p.Protocol.HasPorts() {
		return 0, 0, fmt.Errorf("protocol %s does not take ports", p.Protocol)
	}
	return from, to, nil
}
