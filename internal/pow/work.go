// Package pow converts between a header's compact difficulty target and the
// accumulated "worksum" used to compare forks (see spec GLOSSARY: Worksum).
//
// Non-goal: this package does not implement or verify the proof-of-work
// hash function itself (that primitive is an external collaborator per
// spec.md §1); it only does the arithmetic needed to compare chains by
// accumulated work, the same arithmetic btcsuite/btcd performs for Bitcoin.
package pow

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// oneLsh256 is 2^256, used as the numerator when converting a target into
// the amount of "work" one block at that target represents.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// BlockWork returns the work represented by a single block with the given
// compact target bits: floor(2^256 / (target+1)), the standard idiom also
// used by btcd's blockchain.CalcWork.
func BlockWork(bits uint32) *big.Int {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denom)
}

// Worksum accumulates BlockWork over a slice of compact bits, e.g. the bits
// field of every header in a candidate chain.
func Worksum(bits []uint32) *big.Int {
	total := big.NewInt(0)
	for _, b := range bits {
		total.Add(total, BlockWork(b))
	}
	return total
}

// CompactFromBig is the inverse of blockchain.CompactToBig, exposed here so
// callers never need to import btcd directly.
func CompactFromBig(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}
