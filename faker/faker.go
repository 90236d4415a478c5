// Package faker generates deterministic fake replacement values for cells
// classified as PII. The same input bytes and strategy always yield the
// same output within a process: a 64-bit seed is derived from the
// original bytes with FNV-1a, and that seed drives a stdlib PCG-based
// generator (the stable hash and generator choice are frozen — changing
// either breaks the determinism guarantee for existing callers).
package faker

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
)

// Strategy names the replacement recipe applied to a cell. Unknown
// strategy names degrade to Mask.
type Strategy string

const (
	Email      Strategy = "email"
	Phone      Strategy = "phone"
	Address    Strategy = "address"
	CreditCard Strategy = "credit_card"
	Literal    Strategy = "mask"
)

// NormalizeStrategy maps an arbitrary configured strategy name to a known
// Strategy, degrading anything unrecognized to Literal.
func NormalizeStrategy(name string) Strategy {
	switch Strategy(name) {
	case Email, Phone, Address, CreditCard, Literal:
		return Strategy(name)
	default:
		return Literal
	}
}

// seed derives a 64-bit seed from original using FNV-1a 64. Frozen choice
// per the determinism invariant: any change here changes every masked
// output for existing data.
func seed(original []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(original) // hash.Hash.Write never errors
	return h.Sum64()
}

// rngFor returns a *rand.Rand seeded deterministically from original.
func rngFor(original []byte) *rand.Rand {
	s := seed(original)
	return rand.New(rand.NewPCG(s, s>>1|1))
}

// Mask replaces original with a plausible fake value for strategy. The
// output preserves no length relation to the input and is always valid
// UTF-8.
func Mask(original []byte, strategy Strategy) []byte {
	r := rngFor(original)
	switch strategy {
	case Email:
		return []byte(fakeEmail(r))
	case Phone:
		return []byte(fakePhone(r))
	case Address:
		return []byte(fakeCity(r))
	case CreditCard:
		return []byte(fakeCreditCard(r))
	default:
		return []byte("MASKED")
	}
}

func pick(r *rand.Rand, words []string) string {
	return words[r.IntN(len(words))]
}

func fakeEmail(r *rand.Rand) string {
	local1 := pick(r, localeWords)
	local2 := pick(r, localeWords)
	domainWord := pick(r, localeWords)
	tld := pick(r, tlds)
	return fmt.Sprintf("%s.%s@%s.%s", local1, local2, domainWord, tld)
}

func fakePhone(r *rand.Rand) string {
	var b strings.Builder
	b.WriteByte('+')
	b.WriteByte('1')
	b.WriteByte('-')
	for i := 0; i < 10; i++ {
		if i == 3 || i == 6 {
			b.WriteByte('-')
		}
		b.WriteByte(byte('0' + r.IntN(10)))
	}
	return b.String()
}

func fakeCity(r *rand.Rand) string {
	return pick(r, cityNames)
}

func fakeCreditCard(r *rand.Rand) string {
	var b strings.Builder
	for group := 0; group < 4; group++ {
		if group > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < 4; i++ {
			b.WriteByte(byte('0' + r.IntN(10)))
		}
	}
	return b.String()
}
