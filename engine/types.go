// Package engine holds the types shared by every component of the
// arbitrage engine: the chain-primitive aliases, the pool/cycle data model,
// the immutable run context, and the typed event-bus messages that C5
// through C8 pass to each other over channels.
package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte contract/account identifier.
type Address = common.Address

// Word is a 32-byte storage word.
type Word = common.Hash

// Context carries the process-wide constants a component needs at
// construction time. Passed explicitly rather than read from package-level
// globals (see SPEC_FULL.md, "Configuration").
type Context struct {
	// Amount is the reference swap size (in WETH wei) used to bootstrap
	// rates and to seed the simulator's optimal-input search.
	Amount *big.Int
	// Weth is the reference token: every cycle starts and ends here.
	Weth Address
	// ChainID identifies the target chain for transaction signing.
	ChainID uint64
}

// PoolType is the closed enumeration of venue families this engine can
// quote. Dispatch on it is always an exhaustive switch (see spec.md §9,
// "Dynamic dispatch") — never a virtual call.
type PoolType uint8

const (
	PoolTypeUnknown PoolType = iota
	PoolTypeUniswapV2
	PoolTypeSushiSwapV2
	PoolTypeSwapBasedV2
	PoolTypePancakeSwapV2
	PoolTypeBaseSwapV2
	PoolTypeDackieSwapV2
	PoolTypeAlienBaseV2
	PoolTypeAerodromeVolatile
	PoolTypeUniswapV3
)

// IsV3 reports whether this pool family uses concentrated-liquidity math.
func (t PoolType) IsV3() bool {
	return t == PoolTypeUniswapV3
}

func (t PoolType) String() string {
	switch t {
	case PoolTypeUniswapV2:
		return "uniswap-v2"
	case PoolTypeSushiSwapV2:
		return "sushiswap-v2"
	case PoolTypeSwapBasedV2:
		return "swapbased-v2"
	case PoolTypePancakeSwapV2:
		return "pancakeswap-v2"
	case PoolTypeBaseSwapV2:
		return "baseswap-v2"
	case PoolTypeDackieSwapV2:
		return "dackieswap-v2"
	case PoolTypeAlienBaseV2:
		return "alienbase-v2"
	case PoolTypeAerodromeVolatile:
		return "aerodrome-volatile"
	case PoolTypeUniswapV3:
		return "uniswap-v3"
	default:
		return "unknown"
	}
}

// TickInfo is one entry of a V3 pool's sparse tick mapping.
type TickInfo struct {
	LiquidityNet   *big.Int // i128
	LiquidityGross *big.Int // u128
	Initialized    bool
}

// Pool is a discriminated value describing a liquidity venue. Common fields
// are always populated; V2Reserve0/1 and the V3* fields are meaningful only
// for their respective PoolType family.
type Pool struct {
	Address        Address
	Token0         Address
	Token1         Address
	Token0Decimals uint8
	Token1Decimals uint8
	Type           PoolType
	Fee            uint32 // protocol-specific fee parameter
	Stable         bool   // V2 family only (Aerodrome stable pairs)

	// V2 variant.
	V2Reserve0 *big.Int
	V2Reserve1 *big.Int

	// V3 variant.
	V3SqrtPriceX96 *big.Int // U160
	V3Liquidity    *big.Int // u128
	V3Tick         int32
	V3TickSpacing  int32
	V3TickBitmap   map[int16]*big.Int     // word index -> packed U256
	V3Ticks        map[int32]TickInfo
}

// Clone returns a deep copy of the pool, safe to mutate independently.
func (p *Pool) Clone() *Pool {
	c := *p
	if p.V2Reserve0 != nil {
		c.V2Reserve0 = new(big.Int).Set(p.V2Reserve0)
	}
	if p.V2Reserve1 != nil {
		c.V2Reserve1 = new(big.Int).Set(p.V2Reserve1)
	}
	if p.V3SqrtPriceX96 != nil {
		c.V3SqrtPriceX96 = new(big.Int).Set(p.V3SqrtPriceX96)
	}
	if p.V3Liquidity != nil {
		c.V3Liquidity = new(big.Int).Set(p.V3Liquidity)
	}
	if p.V3TickBitmap != nil {
		c.V3TickBitmap = make(map[int16]*big.Int, len(p.V3TickBitmap))
		for k, v := range p.V3TickBitmap {
			c.V3TickBitmap[k] = new(big.Int).Set(v)
		}
	}
	if p.V3Ticks != nil {
		c.V3Ticks = make(map[int32]TickInfo, len(p.V3Ticks))
		for k, v := range p.V3Ticks {
			ti := TickInfo{Initialized: v.Initialized}
			if v.LiquidityNet != nil {
				ti.LiquidityNet = new(big.Int).Set(v.LiquidityNet)
			}
			if v.LiquidityGross != nil {
				ti.LiquidityGross = new(big.Int).Set(v.LiquidityGross)
			}
			c.V3Ticks[k] = ti
		}
	}
	return &c
}

// SwapStep is one hop of a cycle. Equality and hashing are structural.
type SwapStep struct {
	Pool     Address
	TokenIn  Address
	TokenOut Address
	Protocol PoolType
	Fee      uint32
}

// Cycle (SwapPath) is an ordered sequence of swap steps that starts and
// ends at the reference token, with no repeated intermediate token.
// Immutable after construction.
type Cycle struct {
	Steps []SwapStep
	Hash  uint64
}

// BlockHeader is the subset of a chain header the engine needs downstream
// of C5.
type BlockHeader struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	GasUsed    uint64
	GasLimit   uint64
	BaseFee    *big.Int
	Timestamp  uint64
}

// --- Event bus (spec.md §3) ---
//
// These are channel element types, not the channels themselves; components
// construct bounded channels (capacity <= 100, spec.md §9) of these types.

// NewBlockEvent is sent by C5 once per processed block, on a single channel;
// each event reaches one receiver.
type NewBlockEvent struct {
	Header BlockHeader
}

// PoolsTouchedEvent is point-to-point, C5 -> C6, strictly increasing in
// BlockNumber.
type PoolsTouchedEvent struct {
	Pools       []Address
	BlockNumber uint64
}

// ArbPathEvent is point-to-point, C6 -> C7.
type ArbPathEvent struct {
	Path        Cycle
	ExpectedOut *big.Int
	BlockNumber uint64
}

// ValidPathEvent is point-to-point, C7 -> C8.
type ValidPathEvent struct {
	Params      ExecParams
	Profit      *big.Int
	BlockNumber uint64
}

// ExecParams is the execution envelope handed to the sender: the ABI
// arguments for FlashSwap.executeArbitrage, plus the chosen input amount.
type ExecParams struct {
	Pools        []Address
	PoolVersions []uint8 // 1 iff the step's pool is V3-family
	AmountIn     *big.Int
}
