// Package v3 implements the concentrated-liquidity tick-crossing swap loop
// shared by every Uniswap-V3-family pool, adapted from the teacher's
// protocols/uniswapv3/calculator package onto engine.Pool's map-keyed tick
// storage instead of an indexer-fed slice.
package v3

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/quoter/v3/liquiditymath"
	"github.com/defistate/flasharb/quoter/v3/swapmath"
	"github.com/defistate/flasharb/quoter/v3/tickbitmap"
	"github.com/defistate/flasharb/quoter/v3/tickmath"
)

var (
	ErrInvalidAmountIn = errors.New("amountIn must be greater than zero")
	ErrTokenMismatch   = errors.New("token mismatch")

	q96 = new(big.Int).Lsh(big.NewInt(1), 96)
)

// swapState holds every mutable value threaded through the tick-crossing
// loop, pooled to keep a quote allocation-free on the hot path.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	sqrtPriceX96             *big.Int
	tick                     int32
	liquidity                *big.Int

	sqrtPriceStartX96 *big.Int
	sqrtPriceNextX96  *big.Int
	targetPrice       *big.Int
	stepAmountIn      *big.Int
	stepAmountOut     *big.Int
	stepFeeAmount     *big.Int
	tempAmount        *big.Int
	liquidityNet      *big.Int
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountSpecifiedRemaining: new(big.Int), amountCalculated: new(big.Int),
			sqrtPriceX96: new(big.Int), liquidity: new(big.Int),
			sqrtPriceStartX96: new(big.Int), sqrtPriceNextX96: new(big.Int), targetPrice: new(big.Int),
			stepAmountIn: new(big.Int), stepAmountOut: new(big.Int), stepFeeAmount: new(big.Int),
			tempAmount: new(big.Int), liquidityNet: new(big.Int),
		}
	},
}

// sortedTickIndex builds the ascending tick-index slice tickbitmap needs,
// once per swap rather than once per step.
func sortedTickIndex(ticks map[int32]engine.TickInfo) []int32 {
	idx := make([]int32, 0, len(ticks))
	for t, info := range ticks {
		if info.Initialized {
			idx = append(idx, t)
		}
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	return idx
}

func _swap(state *swapState, pool *engine.Pool, sortedTicks []int32, sqrtPriceLimitX96 *big.Int, zeroForOne bool) error {
	if sqrtPriceLimitX96 == nil {
		if zeroForOne {
			sqrtPriceLimitX96 = tickmath.MinSqrtRatio
		} else {
			sqrtPriceLimitX96 = tickmath.MaxSqrtRatio
		}
	}

	exactInput := state.amountSpecifiedRemaining.Sign() > 0

	for state.amountSpecifiedRemaining.Sign() != 0 && state.sqrtPriceX96.Cmp(sqrtPriceLimitX96) != 0 {
		state.sqrtPriceStartX96.Set(state.sqrtPriceX96)

		tickNext, initialized := tickbitmap.NextInitializedTickWithinOneWord(sortedTicks, state.tick, zeroForOne)
		if !initialized {
			break
		}
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}

		if err := tickmath.GetSqrtRatioAtTick(state.sqrtPriceNextX96, tickNext); err != nil {
			return err
		}

		if (zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) < 0) ||
			(!zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) > 0) {
			state.targetPrice.Set(sqrtPriceLimitX96)
		} else {
			state.targetPrice.Set(state.sqrtPriceNextX96)
		}

		if err := swapmath.ComputeSwapStep(
			state.sqrtPriceX96, state.stepAmountIn, state.stepAmountOut, state.stepFeeAmount,
			state.sqrtPriceStartX96, state.targetPrice, state.liquidity,
			state.amountSpecifiedRemaining, state.tempAmount.SetUint64(uint64(pool.Fee)),
		); err != nil {
			break
		}

		if exactInput {
			state.amountSpecifiedRemaining.Sub(state.amountSpecifiedRemaining, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
			state.amountCalculated.Add(state.amountCalculated, state.stepAmountOut)
		} else {
			state.amountSpecifiedRemaining.Add(state.amountSpecifiedRemaining, state.stepAmountOut)
			state.amountCalculated.Add(state.amountCalculated, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
		}

		if state.sqrtPriceX96.Cmp(state.sqrtPriceNextX96) == 0 {
			if info, ok := pool.V3Ticks[tickNext]; ok && info.LiquidityNet != nil {
				state.liquidityNet.Set(info.LiquidityNet)
				if zeroForOne {
					state.liquidityNet.Neg(state.liquidityNet)
				}
				if err := liquiditymath.AddDelta(state.liquidity, state.liquidity, state.liquidityNet); err != nil {
					if errors.Is(err, liquiditymath.ErrLiquidityUnderflow) {
						break
					}
					return err
				}
			}

			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX96.Cmp(state.sqrtPriceStartX96) != 0 {
			tick, err := tickmath.GetTickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return err
			}
			state.tick = tick
		}
	}
	return nil
}

func direction(tokenIn engine.Address, pool *engine.Pool) (zeroForOne bool, err error) {
	switch tokenIn {
	case pool.Token0:
		return true, nil
	case pool.Token1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, tokenIn, pool.Address)
	}
}

func newState(pool *engine.Pool, amountSpecified *big.Int) *swapState {
	s := swapStatePool.Get().(*swapState)
	s.amountSpecifiedRemaining.Set(amountSpecified)
	s.amountCalculated.SetInt64(0)
	s.sqrtPriceX96.Set(pool.V3SqrtPriceX96)
	s.tick = pool.V3Tick
	s.liquidity.Set(pool.V3Liquidity)
	return s
}

// SimulateExactInSwap runs the tick-crossing loop for an exact-input swap,
// returning the output amount and the pool state it produces.
func SimulateExactInSwap(amountIn *big.Int, sqrtPriceLimitX96 *big.Int, tokenIn engine.Address, pool *engine.Pool) (*big.Int, *engine.Pool, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, ErrInvalidAmountIn
	}
	zeroForOne, err := direction(tokenIn, pool)
	if err != nil {
		return nil, nil, err
	}

	state := newState(pool, amountIn)
	defer swapStatePool.Put(state)

	sortedTicks := sortedTickIndex(pool.V3Ticks)
	if err := _swap(state, pool, sortedTicks, sqrtPriceLimitX96, zeroForOne); err != nil {
		return nil, nil, err
	}

	next := pool.Clone()
	next.V3SqrtPriceX96 = new(big.Int).Set(state.sqrtPriceX96)
	next.V3Tick = state.tick
	next.V3Liquidity = new(big.Int).Set(state.liquidity)

	return new(big.Int).Set(state.amountCalculated), next, nil
}

// GetAmountOut quotes an exact-input swap without returning the mutated
// pool state.
func GetAmountOut(amountIn *big.Int, tokenIn engine.Address, pool *engine.Pool) (*big.Int, error) {
	out, _, err := SimulateExactInSwap(amountIn, nil, tokenIn, pool)
	return out, err
}

// GetVirtualReserves derives the instantaneous virtual reserves implied by
// a pool's current liquidity and sqrt price.
func GetVirtualReserves(tokenIn engine.Address, pool *engine.Pool) (reserveIn, reserveOut *big.Int, err error) {
	zeroForOne, err := direction(tokenIn, pool)
	if err != nil {
		return nil, nil, err
	}

	reserve0 := new(big.Int).Div(new(big.Int).Lsh(pool.V3Liquidity, 96), pool.V3SqrtPriceX96)
	reserve1 := new(big.Int).Div(new(big.Int).Mul(pool.V3Liquidity, pool.V3SqrtPriceX96), q96)

	if zeroForOne {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}
