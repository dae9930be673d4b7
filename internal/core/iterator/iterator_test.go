package iterator

import "testing"

func TestModPowAndMulMod(t *testing.T) {
	if got := modpow(2, 10, 1_000_000_007); got != 1024 {
		t.Fatalf("modpow(2,10,mod) = %d, want 1024", got)
	}
	if got := mulmod(1<<40, 1<<40, (1<<48)+21); got >= (1<<48)+21 {
		t.Fatalf("mulmod result %d not reduced mod m", got)
	}
}

func TestIsPrime(t *testing.T) {
	primes := []uint64{2, 3, 5, 7, 11, 97, 65537, 1_000_000_007}
	for _, p := range primes {
		if !isPrime(p) {
			t.Errorf("isPrime(%d) = false, want true", p)
		}
	}
	composites := []uint64{1, 4, 9, 100, 65536, 1_000_000_008}
	for _, c := range composites {
		if isPrime(c) {
			t.Errorf("isPrime(%d) = true, want false", c)
		}
	}
}

func TestNextPrimeAtLeastAsLargeAsInput(t *testing.T) {
	for _, n := range []uint64{1, 2, 7, 255, 65536, 1 << 24} {
		p := nextPrime(n + 1)
		if p < n+1 {
			t.Fatalf("nextPrime(%d) = %d, want >= %d", n+1, p, n+1)
		}
		if !isPrime(p) {
			t.Fatalf("nextPrime(%d) = %d is not prime", n+1, p)
		}
	}
}

func TestPrimitiveRootGeneratesFullGroup(t *testing.T) {
	for _, n := range []uint64{1, 2, 7, 255, 65536} {
		p := nextPrime(n + 2)
		g := primitiveRoot(p)

		seen := make(map[uint64]bool)
		x := uint64(1)
		for i := uint64(0); i < p-1; i++ {
			x = mulmod(x, g, p)
			seen[x] = true
		}
		if uint64(len(seen)) != p-1 {
			t.Fatalf("N=%d p=%d g=%d: primitive root only generated %d of %d elements", n, p, g, len(seen), p-1)
		}
	}
}

// Iterator coverage: for any N and the unsharded walk, every index in
// [1,N] is emitted exactly once (spec.md §8).
func TestFullCoverageNoDuplicates(t *testing.T) {
	for _, n := range []uint64{1, 2, 7, 255, 65536} {
		params, err := NewParams(n)
		if err != nil {
			t.Fatalf("NewParams(%d): %v", n, err)
		}

		seen := make(map[uint64]bool, n)
		params.Full(func(x uint64) bool {
			if x < 1 || x > n {
				t.Fatalf("N=%d emitted out-of-range value %d", n, x)
			}
			if seen[x] {
				t.Fatalf("N=%d emitted duplicate value %d", n, x)
			}
			seen[x] = true
			return false
		})

		if uint64(len(seen)) != n {
			t.Fatalf("N=%d: covered %d of %d indices", n, len(seen), n)
		}
	}
}

func TestDecodeRoundTrips(t *testing.T) {
	numPorts := uint64(7)
	for x := uint64(1); x <= 70; x++ {
		addrOrdinal, portIndex := Decode(x, numPorts)
		reconstructed := addrOrdinal*numPorts + portIndex + 1
		if reconstructed != x {
			t.Fatalf("Decode(%d,%d) round-trip mismatch: got ordinal=%d port=%d -> %d", x, numPorts, addrOrdinal, portIndex, reconstructed)
		}
	}
}

func TestNewParamsRejectsOversizedN(t *testing.T) {
	if _, err := NewParams(MaxSupportedN + 1); err == nil {
		t.Fatal("expected error for N > MaxSupportedN")
	}
	if _, err := NewParams(0); err == nil {
		t.Fatal("expected error for N=0")
	}
}
