// Package blocklist defines the queryable predicate the core consumes
// for allow/deny decisions over destination addresses. Parsing the
// actual blocklist/allowlist file format is explicitly out of scope
// for the core (spec.md §1); this package only defines the interface
// and a couple of minimal in-memory implementations so the rest of the
// engine (and its tests) have something concrete to run against.
package blocklist

import (
	"encoding/binary"
	"net"
	"sort"
)

// Oracle is the contract spec.md §6 carves out: a predicate over
// individual addresses, a count of how many addresses it allows, and a
// rank query mapping an ordinal in [0, CountAllowed()) back to the
// k-th allowed address in canonical order. The iterator decodes a
// group element into (addr_ordinal, port_index) and calls Rank to
// resolve addr_ordinal to a concrete net.IP.
type Oracle interface {
	Allowed(ip net.IP) bool
	CountAllowed() uint64
	Rank(ordinal uint64) net.IP
}

// AllowAll treats every IPv4 address in one configured network as
// allowed (and every address outside it as not allowed), ranked by its
// big-endian uint32 offset from the network's base address.
// It exists so tests and dry runs can exercise the full target space
// without constructing a real blocklist file.
type AllowAll struct {
	base  uint32
	count uint64
}

// NewAllowAllFromCIDR builds an AllowAll oracle covering every address
// in cidr (inclusive of network/broadcast, matching spec.md's "A x P"
// target space which doesn't special-case them).
func NewAllowAllFromCIDR(cidr string) (*AllowAll, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	ones, bits := ipNet.Mask.Size()
	count := uint64(1) << uint(bits-ones)
	return &AllowAll{base: binary.BigEndian.Uint32(ipNet.IP.To4()), count: count}, nil
}

func (a *AllowAll) Allowed(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	ord := binary.BigEndian.Uint32(v4) - a.base
	return uint64(ord) < a.count
}

func (a *AllowAll) CountAllowed() uint64 { return a.count }

func (a *AllowAll) Rank(ordinal uint64) net.IP {
	if ordinal >= a.count {
		return nil
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], a.base+uint32(ordinal))
	ip := make(net.IP, 4)
	copy(ip, buf[:])
	return ip
}

// CIDRSet is a small allowlist/blocklist oracle built from a fixed set
// of CIDR ranges, ranked in canonical (sorted, non-overlapping) order.
// It is adequate for tests and small scans; a production deployment's
// blocklist representation lives outside the core, per spec.md §1.
type CIDRSet struct {
	ranges []ipRange // sorted, non-overlapping, ascending
	cum    []uint64  // cum[i] = total addresses in ranges[:i]
	total  uint64
}

type ipRange struct {
	start, end uint32 // inclusive, big-endian uint32 address space
}

// NewCIDRSet builds an oracle allowing exactly the union of the given
// CIDR blocks.
func NewCIDRSet(cidrs []string) (*CIDRSet, error) {
	var ranges []ipRange
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		ones, bits := ipNet.Mask.Size()
		start := binary.BigEndian.Uint32(ipNet.IP.To4())
		end := start
		if hostBits := uint(bits - ones); hostBits > 0 {
			end = start + uint32(uint64(1)<<hostBits-1)
		}
		ranges = append(ranges, ipRange{start: start, end: end})
	}
	ranges = mergeRanges(ranges)

	cum := make([]uint64, len(ranges))
	var total uint64
	for i, r := range ranges {
		cum[i] = total
		total += uint64(r.end-r.start) + 1
	}

	return &CIDRSet{ranges: ranges, cum: cum, total: total}, nil
}

func mergeRanges(ranges []ipRange) []ipRange {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	merged := ranges[:0]
	for _, r := range ranges {
		if len(merged) > 0 && uint64(r.start) <= uint64(merged[len(merged)-1].end)+1 {
			if r.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func (c *CIDRSet) Allowed(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	addr := binary.BigEndian.Uint32(v4)
	i := sort.Search(len(c.ranges), func(i int) bool { return c.ranges[i].end >= addr })
	return i < len(c.ranges) && c.ranges[i].start <= addr
}

func (c *CIDRSet) CountAllowed() uint64 { return c.total }

func (c *CIDRSet) Rank(ordinal uint64) net.IP {
	if ordinal >= c.total {
		return nil
	}
	i := sort.Search(len(c.cum), func(i int) bool {
		next := c.total
		if i+1 < len(c.cum) {
			next = c.cum[i+1]
		}
		return next > ordinal
	})
	offset := ordinal - c.cum[i]
	addr := c.ranges[i].start + uint32(offset)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], addr)
	ip := make(net.IP, 4)
	copy(ip, buf[:])
	return ip
}
