package ipam

import (
	"context"
	"net/netip"

	"github.com/jbweber/homelab/ipamd/internal/datastore"
	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/iprange"
	"github.com/jbweber/homelab/ipamd/internal/subnetpool"
	"go4.org/netipx"
)

type indexedSubnet struct {
	id     int64
	prefix netip.Prefix
	static *netipx.IPSet
}

// subnetIndex resolves an address to the subnet containing it
type subnetIndex []indexedSubnet

func loadIndex(ctx context.Context, tx datastore.Repos, report *Report) (subnetIndex, error) {
	subnets, err := tx.Subnets.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return buildIndex(subnets, report), nil
}

// buildIndex parses every subnet once. Subnets with malformed stored data are
// left out and reported.
func buildIndex(subnets []domain.Subnet, report *Report) subnetIndex {
	ix := make(subnetIndex, 0, len(subnets))
	for _, s := range subnets {
		prefix, err := subnetpool.ParseNetwork(s.Network)
		if err != nil {
			report.warn("subnet %s: %v", s.Name, err)
			continue
		}
		static, err := iprange.ParseSet(s.StaticPools)
		if err != nil {
			report.warn("subnet %s: %v", s.Name, err)
			continue
		}
		ix = append(ix, indexedSubnet{id: s.ID, prefix: prefix, static: static})
	}
	return ix
}

// resolve returns the subnet containing addr and the pool addr falls in.
// Subnets never overlap, so the first match is the only match.
func (ix subnetIndex) resolve(addr netip.Addr) (*int64, domain.PoolType) {
	for _, s := range ix {
		if !s.prefix.Contains(addr) {
			continue
		}
		id := s.id
		if s.static.Contains(addr) {
			return &id, domain.PoolStatic
		}
		return &id, domain.PoolDHCP
	}
	return nil, domain.PoolUnrouted
}

// holds reports whether the subnet with the given ID still contains address.
// Subnets missing from the index are given the benefit of the doubt.
func (ix subnetIndex) holds(subnetID int64, address string) bool {
	for _, s := range ix {
		if s.id != subnetID {
			continue
		}
		addr, err := netip.ParseAddr(address)
		if err != nil {
			return true
		}
		return s.prefix.Contains(addr.Unmap())
	}
	return true
}
