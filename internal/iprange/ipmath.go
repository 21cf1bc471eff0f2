package iprange

import (
	"math"
	"math/big"
	"net/netip"

	"go4.org/netipx"
)

func addrToBig(a netip.Addr) *big.Int {
	if a.Is4() {
		b := a.As4()
		return new(big.Int).SetBytes(b[:])
	}
	b := a.As16()
	return new(big.Int).SetBytes(b[:])
}

// Size returns the number of addresses in r, saturating at MaxUint64
func Size(r netipx.IPRange) uint64 {
	if !r.IsValid() {
		return 0
	}
	n := new(big.Int).Sub(addrToBig(r.To()), addrToBig(r.From()))
	n.Add(n, big.NewInt(1))
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

// SortKey returns a fixed-width big-endian key that orders addresses
// numerically when compared bytewise. IPv4 sorts before IPv6.
func SortKey(a netip.Addr) []byte {
	a = a.Unmap()
	b := a.As16()
	key := make([]byte, 17)
	if a.Is6() {
		key[0] = 1
	}
	copy(key[1:], b[:])
	return key
}
