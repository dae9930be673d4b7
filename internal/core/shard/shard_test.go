package shard

import (
	"testing"

	"zscan/internal/core/blocklist"
	"zscan/internal/core/iterator"
)

// Two-shard union: every index in [1,N] is emitted by exactly one of
// two disjoint shards, and the two shards never emit the same index
// (spec.md §8 "Two-shard union").
func TestTwoShardUnionAndDisjointness(t *testing.T) {
	const n = 1000
	params, err := iterator.NewParams(n)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}

	oracle, err := blocklist.NewAllowAllFromCIDR("10.0.0.0/22")
	if err != nil {
		t.Fatalf("NewAllowAllFromCIDR: %v", err)
	}
	ports := []uint16{80}

	seenBy := make(map[uint64]int) // addr ordinal -> which shard emitted it
	for shardIdx := 0; shardIdx < 2; shardIdx++ {
		cfg := Config{
			Params:          params,
			Ports:           ports,
			ShardIndex:      shardIdx,
			TotalShards:     2,
			ThreadIndex:     0,
			SendersPerShard: 1,
			Oracle:          oracle,
			ThreadID:        shardIdx,
		}
		s, err := New(cfg)
		if err != nil {
			t.Fatalf("New(shard %d): %v", shardIdx, err)
		}

		for {
			target, status := s.NextTarget()
			if status == Done {
				break
			}
			ord := addrOrdinalOf(target, oracle)
			if prev, ok := seenBy[ord]; ok {
				t.Fatalf("index %d emitted by both shard %d and shard %d", ord, prev, shardIdx)
			}
			seenBy[ord] = shardIdx
		}
	}

	if uint64(len(seenBy)) != n {
		t.Fatalf("union covered %d of %d indices", len(seenBy), n)
	}
}

func addrOrdinalOf(target Target, oracle blocklist.Oracle) uint64 {
	for ord := uint64(0); ord < oracle.CountAllowed(); ord++ {
		if oracle.Rank(ord).Equal(target.IP) {
			return ord
		}
	}
	return ^uint64(0)
}
