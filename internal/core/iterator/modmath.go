package iterator

import "math/bits"

// mulmod returns (a*b) mod m without overflowing uint64, using the
// 128-bit intermediate product from bits.Mul64.
//
// hi is reduced mod m before Div64, so the quotient always fits in 64
// bits and the result is correct for any m > 0; MaxSupportedN bounds N
// for the cost of prime search and factoring, not for this step.
func mulmod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi%m, lo, m)
	return rem
}

// modpow returns base^exp mod m via square-and-multiply.
func modpow(base, exp, m uint64) uint64 {
	if m == 1 {
		return 0
	}
	result := uint64(1)
	base %= m
	for exp > 0 {
		if exp&1 == 1 {
			result = mulmod(result, base, m)
		}
		exp >>= 1
		base = mulmod(base, base, m)
	}
	return result
}

// deterministic Miller-Rabin witnesses, valid for all n < 3,317,044,064,679,887,385,961,981
var mrWitnesses = []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

// isPrime is a deterministic primality test, correct for any uint64 in
// the range this package operates in (N up to 2^48, see MaxSupportedN).
func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for _, p := range []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37} {
		if n == p {
			return true
		}
		if n%p == 0 {
			return false
		}
	}

	d := n - 1
	r := 0
	for d%2 == 0 {
		d /= 2
		r++
	}

	for _, a := range mrWitnesses {
		if a >= n {
			continue
		}
		x := modpow(a, d, n)
		if x == 1 || x == n-1 {
			continue
		}
		composite := true
		for i := 0; i < r-1; i++ {
			x = mulmod(x, x, n)
			if x == n-1 {
				composite = false
				break
			}
		}
		if composite {
			return false
		}
	}
	return true
}

// nextPrime returns the smallest prime >= from.
func nextPrime(from uint64) uint64 {
	if from <= 2 {
		return 2
	}
	candidate := from
	if candidate%2 == 0 {
		candidate++
	}
	for !isPrime(candidate) {
		candidate += 2
	}
	return candidate
}

// primeFactors returns the distinct prime factors of n via trial division.
func primeFactors(n uint64) []uint64 {
	var factors []uint64
	for _, p := range []uint64{2, 3} {
		if n%p == 0 {
			factors = append(factors, p)
			for n%p == 0 {
				n /= p
			}
		}
	}
	for i := uint64(5); i*i <= n; i += 6 {
		for _, p := range []uint64{i, i + 2} {
			if n%p == 0 {
				factors = append(factors, p)
				for n%p == 0 {
					n /= p
				}
			}
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	return factors
}

// primitiveRoot finds the smallest primitive root of the multiplicative
// group (Z/pZ)*, p prime. It factors p-1 and tests candidates 2,3,4,...
// against each distinct prime factor q of p-1: g is primitive iff
// g^((p-1)/q) mod p != 1 for every q.
func primitiveRoot(p uint64) uint64 {
	if p == 2 {
		return 1
	}
	phi := p - 1
	factors := primeFactors(phi)

	for g := uint64(2); g < p; g++ {
		isRoot := true
		for _, q := range factors {
			if modpow(g, phi/q, p) == 1 {
				isRoot = false
				break
			}
		}
		if isRoot {
			return g
		}
	}
	// Unreachable for any prime p > 1: (Z/pZ)* is cyclic and always has
	// a generator among [2, p).
	return 1
}
