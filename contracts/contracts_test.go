package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPackQuoteArbitrageRoundTripsSelector(t *testing.T) {
	params := SwapParams{
		Pools:        []common.Address{common.HexToAddress("0x1"), common.HexToAddress("0x2")},
		PoolVersions: []uint8{0, 1},
		AmountIn:     big.NewInt(1_000_000),
	}
	data, err := PackQuoteArbitrage(params)
	require.NoError(t, err)
	require.Len(t, data[:4], 4)

	method, ok := QuoterABI.Methods["quoteArbitrage"]
	require.True(t, ok)
	require.Equal(t, method.ID, data[:4])
}

func TestPackApprove(t *testing.T) {
	data, err := PackApprove(QuoterAddress, big.NewInt(1))
	require.NoError(t, err)
	require.True(t, len(data) > 4)
}

func TestBytecodeAccessorsReturnDefensiveCopies(t *testing.T) {
	a := QuoterBytecode()
	a[0] = 0xFF
	b := QuoterBytecode()
	require.Equal(t, byte(0x00), b[0])
}
