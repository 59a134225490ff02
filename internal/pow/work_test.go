package pow

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/stretchr/testify/require"
)

func TestWorksumIsMonotonicInChainLength(t *testing.T) {
	bits := uint32(0x1d00ffff)
	require.True(t, Worksum([]uint32{bits, bits}).Cmp(Worksum([]uint32{bits})) > 0)
}

func TestBlockWorkIncreasesAsTargetShrinks(t *testing.T) {
	easy := BlockWork(0x1d00ffff)
	hard := BlockWork(0x1c00ffff)
	require.True(t, hard.Cmp(easy) > 0, "a smaller target must represent more work")
}

func TestCompactFromBigRoundTripsThroughCompactToBig(t *testing.T) {
	target := blockchain.CompactToBig(0x1d00ffff)
	require.Equal(t, uint32(0x1d00ffff), CompactFromBig(target))
}
