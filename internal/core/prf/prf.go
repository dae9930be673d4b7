// Package prf implements the keyed pseudo-random function the core
// uses for stateless response validation (spec.md §4.1). Validation
// material is derived purely from (saddr, daddr, dport, probe_num) and
// a process-wide key, so a received packet can be checked for
// authenticity without consulting any per-probe table.
package prf

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// KeySize is the width of the process-wide PRF key, matching AES-128's
// block-cipher key size.
const KeySize = 16

// Key is the process-wide secret drawn once at startup from a
// cryptographic RNG (spec.md §4.1: "Key generated once from a
// cryptographic RNG at startup").
type Key [KeySize]byte

// NewKey draws a fresh random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("prf: generating key: %w", err)
	}
	return k, nil
}

// Words is the four 32-bit validation words V[0..3] carried in
// outgoing probe fields. Per-module meaning is assigned by the probe
// (TCP initial sequence, UDP source port, DNS transaction ID, ICMP
// identifier, IP ID, ...); prf itself is protocol-agnostic.
type Words [4]uint32

// F computes V = PRF_K(saddr || daddr || dport || probeNum), encoding
// the input into a single 16-byte AES block and encrypting it with
// key. probeNum distinguishes repeated probe streams to the same
// target (spec.md Glossary: "Probe stream").
//
// Block layout: saddr(4) daddr(4) dport(2) probeNum(1) pad(5).
func F(key Key, saddr, daddr uint32, dport uint16, probeNum uint8) (Words, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Words{}, fmt.Errorf("prf: building cipher: %w", err)
	}

	var in [aes.BlockSize]byte
	binary.BigEndian.PutUint32(in[0:4], saddr)
	binary.BigEndian.PutUint32(in[4:8], daddr)
	binary.BigEndian.PutUint16(in[8:10], dport)
	in[10] = probeNum
	// in[11:16] left zero as padding.

	var out [aes.BlockSize]byte
	block.Encrypt(out[:], in[:])

	return Words{
		binary.BigEndian.Uint32(out[0:4]),
		binary.BigEndian.Uint32(out[4:8]),
		binary.BigEndian.Uint32(out[8:12]),
		binary.BigEndian.Uint32(out[12:16]),
	}, nil
}

// Validate recomputes V from the claimed fields and reports whether it
// matches the words extracted from a captured packet. This is the
// "recompute locally and compare" discipline every probe module's
// validate_packet must follow (spec.md §4.2).
func Validate(key Key, saddr, daddr uint32, dport uint16, probeNum uint8, got Words) (bool, error) {
	want, err := F(key, saddr, daddr, dport, probeNum)
	if err != nil {
		return false, err
	}
	return want == got, nil
}
