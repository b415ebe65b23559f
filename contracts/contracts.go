// Package contracts holds the ABI definitions and placeholder bytecode for
// the two on-chain contracts this engine drives: FlashQuoter (read-only
// round-trip quoting, called by the simulator) and FlashSwap (the actual
// flash-loan arbitrage executor, called by the sender) — spec.md §6.
//
// The bytecode blobs here are NOT compiled Solidity output: this module
// never runs a Solidity toolchain, so each is a short placeholder blob
// (a STOP opcode) occupying the slot real deployment bytecode would fill
// at build time, versioned alongside the engine per spec.md §6's "two
// bytecode blobs, versioned with the build".
package contracts

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// errBadReturnType signals an ABI-decoded value that doesn't match the
// expected Go type, which would indicate the embedded ABI and the unpack
// call have drifted apart.
var errBadReturnType = errors.New("contracts: unexpected ABI return type")

// QuoterAddress is the fixed address the simulator's mirrored state
// pre-populates with FlashQuoter's bytecode (spec.md §4.7's "fixed quoter
// contract address").
var QuoterAddress = common.HexToAddress("0x000000000000000000000000000000000F10A7")

// FlashSwapAddress is the fixed address the sender targets with a signed
// executeArbitrage transaction.
var FlashSwapAddress = common.HexToAddress("0x000000000000000000000000000000000F1A54")

// quoterABIJSON declares quoteArbitrage(SwapParams) -> uint256[], the
// tuple flattened to its field types since the ABI encoder only needs the
// component layout, not a named Go struct (spec.md §6's SwapParams =
// {address[] pools, uint8[] poolVersions, uint256 amountIn}).
const quoterABIJSON = `[
	{
		"type": "function",
		"name": "quoteArbitrage",
		"stateMutability": "view",
		"inputs": [
			{
				"name": "params",
				"type": "tuple",
				"components": [
					{"name": "pools", "type": "address[]"},
					{"name": "poolVersions", "type": "uint8[]"},
					{"name": "amountIn", "type": "uint256"}
				]
			}
		],
		"outputs": [
			{"name": "amounts", "type": "uint256[]"}
		]
	}
]`

const flashSwapABIJSON = `[
	{
		"type": "function",
		"name": "executeArbitrage",
		"stateMutability": "nonpayable",
		"inputs": [
			{
				"name": "params",
				"type": "tuple",
				"components": [
					{"name": "pools", "type": "address[]"},
					{"name": "poolVersions", "type": "uint8[]"},
					{"name": "amountIn", "type": "uint256"}
				]
			}
		],
		"outputs": []
	}
]`

const erc20ABIJSON = `[
	{
		"type": "function",
		"name": "approve",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [
			{"name": "", "type": "bool"}
		]
	}
]`

// QuoterABI, FlashSwapABI, and ERC20ABI are parsed once at package init;
// a parse failure here is a build-time programming error, not a runtime
// condition callers need to handle.
var (
	QuoterABI    = mustParseABI(quoterABIJSON)
	FlashSwapABI = mustParseABI(flashSwapABIJSON)
	ERC20ABI     = mustParseABI(erc20ABIJSON)
)

func mustParseABI(rawABI string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic("contracts: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

// SwapParams is the Go mirror of the contracts' SwapParams tuple.
type SwapParams struct {
	Pools        []common.Address
	PoolVersions []uint8
	AmountIn     *big.Int
}

// PackQuoteArbitrage ABI-encodes a call to FlashQuoter.quoteArbitrage.
func PackQuoteArbitrage(params SwapParams) ([]byte, error) {
	return QuoterABI.Pack("quoteArbitrage", struct {
		Pools        []common.Address
		PoolVersions []uint8
		AmountIn     *big.Int
	}{params.Pools, params.PoolVersions, params.AmountIn})
}

// UnpackQuoteArbitrage decodes FlashQuoter.quoteArbitrage's uint256[] return.
func UnpackQuoteArbitrage(output []byte) ([]*big.Int, error) {
	vals, err := QuoterABI.Unpack("quoteArbitrage", output)
	if err != nil {
		return nil, err
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, errBadReturnType
	}
	return amounts, nil
}

// PackExecuteArbitrage ABI-encodes a call to FlashSwap.executeArbitrage.
func PackExecuteArbitrage(params SwapParams) ([]byte, error) {
	return FlashSwapABI.Pack("executeArbitrage", struct {
		Pools        []common.Address
		PoolVersions []uint8
		AmountIn     *big.Int
	}{params.Pools, params.PoolVersions, params.AmountIn})
}

// PackApprove ABI-encodes an ERC20 approve(spender, amount) call.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// quoterPlaceholderCode and flashSwapPlaceholderCode are single-opcode
// (STOP) deployed-bytecode placeholders; a real build replaces these with
// the compiled Solidity output at the same two fixed addresses.
var (
	quoterPlaceholderCode    = []byte{0x00}
	flashSwapPlaceholderCode = []byte{0x00}
)

// QuoterBytecode returns the deployed bytecode to seed at QuoterAddress.
func QuoterBytecode() []byte { return append([]byte(nil), quoterPlaceholderCode...) }

// FlashSwapBytecode returns the deployed bytecode to seed at FlashSwapAddress.
func FlashSwapBytecode() []byte { return append([]byte(nil), flashSwapPlaceholderCode...) }
