// Package subnetpool derives pool statistics for a subnet: usable addresses,
// the DHCP complement of the static pools, and allocation percentage.
package subnetpool

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/iprange"
	"go4.org/netipx"
)

// ErrInvalidNetwork is returned for malformed CIDR or gateway values
var ErrInvalidNetwork = errors.New("invalid network")

// Summary is the derived pool view of a subnet
type Summary struct {
	Usable               uint64   `json:"usable"`
	StaticTotal          uint64   `json:"static_total"`
	StaticAllocated      uint64   `json:"static_allocated"`
	StaticAvailable      uint64   `json:"static_available"`
	DHCPTotal            uint64   `json:"dhcp_total"`
	DHCPRanges           []string `json:"dhcp_ranges"`
	AllocationPercentage float64  `json:"allocation_percentage"`
}

// ParseNetwork parses a CIDR, masking any host bits
func ParseNetwork(cidr string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidNetwork, cidr, err)
	}
	return p.Masked(), nil
}

// UsableRange returns the network minus its network and broadcast addresses.
// ok is false when the network has two or fewer addresses.
func UsableRange(p netip.Prefix) (netipx.IPRange, bool) {
	hostBits := p.Addr().BitLen() - p.Bits()
	if hostBits < 2 {
		return netipx.IPRange{}, false
	}
	full := netipx.RangeOfPrefix(p)
	return netipx.IPRangeFrom(full.From().Next(), full.To().Prev()), true
}

// UsableCount returns the total addresses minus network and broadcast.
// Networks with two or fewer addresses (/31, /32, /127, /128) have zero usable
// addresses by convention. IPv6 networks wider than /64 saturate at MaxUint64.
func UsableCount(cidr string) (uint64, error) {
	p, err := ParseNetwork(cidr)
	if err != nil {
		return 0, err
	}
	r, ok := UsableRange(p)
	if !ok {
		return 0, nil
	}
	return iprange.Size(r), nil
}

// ValidateGateway checks that a non-empty gateway parses and lies inside the network
func ValidateGateway(cidr, gateway string) error {
	if strings.TrimSpace(gateway) == "" {
		return nil
	}
	p, err := ParseNetwork(cidr)
	if err != nil {
		return err
	}
	gw, err := netip.ParseAddr(strings.TrimSpace(gateway))
	if err != nil {
		return fmt.Errorf("%w: gateway %q: %v", ErrInvalidNetwork, gateway, err)
	}
	if !p.Contains(gw.Unmap()) {
		return fmt.Errorf("%w: gateway %s is outside %s", ErrInvalidNetwork, gw, p)
	}
	return nil
}

// ValidateStaticRanges checks that every static range parses and lies inside the network
func ValidateStaticRanges(cidr string, static []string) error {
	p, err := ParseNetwork(cidr)
	if err != nil {
		return err
	}
	full := netipx.RangeOfPrefix(p)
	for _, text := range static {
		r, err := iprange.ParseRange(text)
		if err != nil {
			return err
		}
		if !full.Contains(r.From()) || !full.Contains(r.To()) {
			return fmt.Errorf("%w: static range %s is outside %s", iprange.ErrInvalidRange, text, p)
		}
	}
	return nil
}

// DHCPSet returns usable addresses minus the static pools minus the gateway
func DHCPSet(cidr string, static []string, gateway string) (*netipx.IPSet, error) {
	p, err := ParseNetwork(cidr)
	if err != nil {
		return nil, err
	}

	var b netipx.IPSetBuilder
	if usable, ok := UsableRange(p); ok {
		b.AddRange(usable)
	}
	for _, text := range static {
		r, err := iprange.ParseRange(text)
		if err != nil {
			return nil, err
		}
		b.RemoveRange(r)
	}
	if gw, err := netip.ParseAddr(strings.TrimSpace(gateway)); err == nil {
		b.Remove(gw.Unmap())
	}
	return b.IPSet()
}

// DHCPRanges returns the coalesced DHCP ranges for a subnet definition.
// The result is always computed from scratch.
func DHCPRanges(cidr string, static []string, gateway string) ([]string, error) {
	set, err := DHCPSet(cidr, static, gateway)
	if err != nil {
		return nil, err
	}
	return iprange.FormatSet(set), nil
}

// StaticCount returns the size of the union of the static ranges
func StaticCount(static []string) (uint64, error) {
	set, err := iprange.ParseSet(static)
	if err != nil {
		return 0, err
	}
	return iprange.SetSize(set), nil
}

// AllocationPercentage returns allocated/total as a percentage in [0,100].
// A pool with no static addresses is 0% allocated.
func AllocationPercentage(totalStatic, allocatedStatic uint64) float64 {
	if totalStatic == 0 {
		return 0.0
	}
	pct := float64(allocatedStatic) / float64(totalStatic) * 100
	if pct > 100 {
		return 100
	}
	return math.Round(pct*100) / 100
}

// Summarize computes the pool summary for s given its count of assigned static addresses
func Summarize(s domain.Subnet, allocatedStatic uint64) (Summary, error) {
	usable, err := UsableCount(s.Network)
	if err != nil {
		return Summary{}, err
	}
	staticTotal, err := StaticCount(s.StaticPools)
	if err != nil {
		return Summary{}, err
	}
	dhcp, err := DHCPSet(s.Network, s.StaticPools, s.Gateway)
	if err != nil {
		return Summary{}, err
	}

	available := uint64(0)
	if staticTotal > allocatedStatic {
		available = staticTotal - allocatedStatic
	}
	return Summary{
		Usable:               usable,
		StaticTotal:          staticTotal,
		StaticAllocated:      allocatedStatic,
		StaticAvailable:      available,
		DHCPTotal:            iprange.SetSize(dhcp),
		DHCPRanges:           iprange.FormatSet(dhcp),
		AllocationPercentage: AllocationPercentage(staticTotal, allocatedStatic),
	}, nil
}
