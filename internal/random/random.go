// Package random supplies the injectable randomness source used by the
// resolver for transaction-id permutation seeding and shuffle seeds,
// and by PortPool for source-port draws (the resolver does not drive a
// PortPool; the OS picks query source ports). A resolver handle is given one
// Rand at construction and draws from it explicitly — there is no
// hidden global generator to override, unlike the weak-symbol pattern
// this replaces.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Rand is the source of cryptographically unpredictable values a
// resolver handle needs. permutor.Seed is satisfied by Rand's Uint32
// method, so the same source seeds both the transaction-id permutor
// and the port pool below.
type Rand interface {
	Uint32() uint32
	Uint64() uint64
}

// CryptoRand is the default Rand, backed by crypto/rand.
type CryptoRand struct{}

func (CryptoRand) Uint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint32(buf[:])
}

func (CryptoRand) Uint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint64(buf[:])
}

// NonZeroSeed draws a uint64 from r guaranteed non-zero, for use as a
// packet shuffle seed (packet.Sort.Seed == 0 disables shuffling).
func NonZeroSeed(r Rand) uint64 {
	for {
		if v := r.Uint64(); v != 0 {
			return v
		}
	}
}
