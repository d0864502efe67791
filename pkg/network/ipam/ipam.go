package ipam

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"go4.org/netipx"
)

// Space tracks the address ranges claimed by named segments.
type Space struct {
	mu       sync.Mutex
	prefixes map[string]netip.Prefix // segment name -> masked prefix
}

// NewSpace returns an empty Space.
func NewSpace() *Space {
	return &Space{
		prefixes: make(map[string]netip.Prefix),
	}
}

// Add claims prefix for name and returns the names of previously added
// segments whose prefixes overlap it, sorted. The prefix is recorded even
// when it conflicts so that later additions are checked against it too.
func (s *Space) Add(name string, prefix netip.Prefix) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix = prefix.Masked()
	var conflicts []string
	for other, p := range s.prefixes {
		if p.Overlaps(prefix) {
			conflicts = append(conflicts, other)
		}
	}
	sort.Strings(conflicts)
	s.prefixes[name] = prefix
	return conflicts
}

// Remove releases the prefix held by name.
func (s *Space) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefixes, name)
}

// Get returns the prefix claimed by name.
func (s *Space) Get(name string) (netip.Prefix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prefixes[name]
	return p, ok
}

// Owner returns the name of the segment whose prefix contains addr, or "" if
// none does. When prefixes overlap the most specific one wins.
func (s *Space) Owner(addr netip.Addr) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := ""
	best := -1
	for name, p := range s.prefixes {
		if !p.Contains(addr) {
			continue
		}
		if p.Bits() > best || (p.Bits() == best && name < owner) {
			owner = name
			best = p.Bits()
		}
	}
	return owner
}

// Len returns the number of claimed prefixes.
func (s *Space) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prefixes)
}

// IPSet returns the union of every claimed prefix.
func (s *Space) IPSet() (*netipx.IPSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b netipx.IPSetBuilder
	for _, p := range s.prefixes {
		b.AddPrefix(p)
	}
	return b.IPSet()
}

// ─── Prefix Helpers ─────────────────────────────────────────────────────────

// ParsePrefix parses a CIDR string and returns it masked to its network
// address, so "10.0.0.7/24" yields 10.0.0.0/24.
func ParsePrefix(cidr string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing CIDR %q: %w", cidr, err)
	}
	return p.Masked(), nil
}

// FirstHost returns the first usable host address of prefix. For /31, /32,
// /127 and /128 prefixes there is no reserved network address and the
// network address itself is returned.
func FirstHost(prefix netip.Prefix) (netip.Addr, error) {
	prefix = prefix.Masked()
	if !prefix.IsValid() {
		return netip.Addr{}, fmt.Errorf("invalid prefix")
	}
	base := prefix.Addr()
	if base.BitLen()-prefix.Bits() <= 1 {
		return base, nil
	}
	first := base.Next()
	if !prefix.Contains(first) {
		return netip.Addr{}, fmt.Errorf("no usable host in %s", prefix)
	}
	return first, nil
}

// LastHost returns the highest usable host address of prefix (the broadcast
// address minus one for IPv4 prefixes wider than /31).
func LastHost(prefix netip.Prefix) netip.Addr {
	prefix = prefix.Masked()
	last := netipx.PrefixLastIP(prefix)
	if prefix.Addr().Is4() && prefix.Bits() < 31 {
		return last.Prev()
	}
	return last
}

// Contains reports whether addr lies inside prefix.
func Contains(prefix netip.Prefix, addr netip.Addr) bool {
	return prefix.Masked().Contains(addr)
}

// RangeWithin verifies that start..end is a well-formed range inside prefix.
func RangeWithin(prefix netip.Prefix, start, end netip.Addr) error {
	r := netipx.IPRangeFrom(start, end)
	if !r.IsValid() {
		return fmt.Errorf("range %s-%s is not valid", start, end)
	}
	pr := netipx.RangeOfPrefix(prefix.Masked())
	if !pr.Contains(start) || !pr.Contains(end) {
		return fmt.Errorf("range %s is outside %s", r, prefix.Masked())
	}
	return nil
}
