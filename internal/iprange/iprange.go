// Package iprange parses textual address ranges ("start-end" or a single
// address) and renders sorted addresses back into coalesced ranges.
package iprange

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"

	"go4.org/netipx"
)

// ErrInvalidRange is returned for unparseable or inverted ranges
var ErrInvalidRange = errors.New("invalid IP range")

// MaxEnumerate is the largest range Parse will expand into a slice
const MaxEnumerate = 1 << 18

// ParseRange parses "start-end" or a single address without enumerating it.
func ParseRange(text string) (netipx.IPRange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return netipx.IPRange{}, fmt.Errorf("%w: empty range", ErrInvalidRange)
	}

	startText, endText, isRange := strings.Cut(text, "-")
	start, err := parseAddr(startText)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, text, err)
	}
	if !isRange {
		return netipx.IPRangeFrom(start, start), nil
	}

	end, err := parseAddr(endText)
	if err != nil {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, text, err)
	}
	if start.Is4() != end.Is4() {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: mixed address families", ErrInvalidRange, text)
	}
	if end.Less(start) {
		return netipx.IPRange{}, fmt.Errorf("%w: %q: start is greater than end", ErrInvalidRange, text)
	}
	return netipx.IPRangeFrom(start, end), nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("zoned address %s not allowed", addr)
	}
	return addr.Unmap(), nil
}

// Parse returns every address in the range, ascending and inclusive.
// Ranges over MaxEnumerate addresses are rejected; use Count or Each for those.
func Parse(text string) ([]netip.Addr, error) {
	r, err := ParseRange(text)
	if err != nil {
		return nil, err
	}
	n := Size(r)
	if n > MaxEnumerate {
		return nil, fmt.Errorf("%w: %q: too many addresses to enumerate", ErrInvalidRange, text)
	}
	addrs := make([]netip.Addr, 0, n)
	Each(r, func(a netip.Addr) bool {
		addrs = append(addrs, a)
		return true
	})
	return addrs, nil
}

// Count returns the number of addresses in the range without enumerating it
func Count(text string) (uint64, error) {
	r, err := ParseRange(text)
	if err != nil {
		return 0, err
	}
	return Size(r), nil
}

// Each calls fn for every address in r in ascending order until fn returns false
func Each(r netipx.IPRange, fn func(netip.Addr) bool) {
	if !r.IsValid() {
		return
	}
	for a := r.From(); ; a = a.Next() {
		if !fn(a) || a == r.To() {
			return
		}
	}
}

// FormatRange renders r as "start-end", or a bare address for a single address
func FormatRange(r netipx.IPRange) string {
	if r.From() == r.To() {
		return r.From().String()
	}
	return r.From().String() + "-" + r.To().String()
}

// Coalesce merges ascending unique addresses into contiguous ranges.
// Unsorted or duplicated input is normalized first.
func Coalesce(addrs []netip.Addr) []string {
	if len(addrs) == 0 {
		return nil
	}
	sorted := make([]netip.Addr, len(addrs))
	copy(sorted, addrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	var out []string
	start, prev := sorted[0], sorted[0]
	for _, a := range sorted[1:] {
		if a == prev {
			continue
		}
		if prev.Next() == a {
			prev = a
			continue
		}
		out = append(out, FormatRange(netipx.IPRangeFrom(start, prev)))
		start, prev = a, a
	}
	return append(out, FormatRange(netipx.IPRangeFrom(start, prev)))
}

// ParseSet builds an IPSet from range strings
func ParseSet(ranges []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, text := range ranges {
		r, err := ParseRange(text)
		if err != nil {
			return nil, err
		}
		b.AddRange(r)
	}
	return b.IPSet()
}

// SetSize returns the number of addresses in s, saturating at MaxUint64
func SetSize(s *netipx.IPSet) uint64 {
	var total uint64
	for _, r := range s.Ranges() {
		n := Size(r)
		if total > math.MaxUint64-n {
			return math.MaxUint64
		}
		total += n
	}
	return total
}

// FormatSet renders the ranges of s in ascending order
func FormatSet(s *netipx.IPSet) []string {
	ranges := s.Ranges()
	out := make([]string, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, FormatRange(r))
	}
	return out
}
