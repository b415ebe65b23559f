// Package swapmath computes a single tick-crossing step of a V3 swap,
// mirroring Uniswap V3's SwapMath library.
package swapmath

import (
	"math/big"
	"sync"

	"github.com/defistate/flasharb/quoter/v3/sqrtpricemath"
)

var (
	feeDenominator = big.NewInt(1_000_000)
	one            = big.NewInt(1)
)

type scratch struct {
	amountRemainingLessFee *big.Int
	amountRemainingAbs     *big.Int
	tempValue              *big.Int
	product                *big.Int
	rem                    *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			amountRemainingLessFee: new(big.Int),
			amountRemainingAbs:     new(big.Int),
			tempValue:              new(big.Int),
			product:                new(big.Int),
			rem:                    new(big.Int),
		}
	},
}

// ComputeSwapStep fills sqrtRatioNextX96/amountIn/amountOut/feeAmount for one
// step of a tick-crossing swap between sqrtRatioCurrentX96 and
// sqrtRatioTargetX96, a 1:1 port of SwapMath.sol's computeSwapStep.
func ComputeSwapStep(
	sqrtRatioNextX96, amountIn, amountOut, feeAmount *big.Int,
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining, feePips *big.Int,
) error {
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0

	amountIn.SetInt64(0)
	amountOut.SetInt64(0)
	feeAmount.SetInt64(0)

	if exactIn {
		s.tempValue.Sub(feeDenominator, feePips)
		s.mulDiv(s.amountRemainingLessFee, amountRemaining, s.tempValue, feeDenominator)

		var err error
		if zeroForOne {
			err = sqrtpricemath.GetAmount0Delta(amountIn, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			sqrtpricemath.GetAmount1Delta(amountIn, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return err
		}

		if s.amountRemainingLessFee.Cmp(amountIn) >= 0 {
			sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromInput(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingLessFee, zeroForOne); err != nil {
			return err
		}
	} else {
		s.amountRemainingAbs.Neg(amountRemaining)

		var err error
		if zeroForOne {
			sqrtpricemath.GetAmount1Delta(amountOut, sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			err = sqrtpricemath.GetAmount0Delta(amountOut, sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if err != nil {
			return err
		}

		if s.amountRemainingAbs.Cmp(amountOut) >= 0 {
			sqrtRatioNextX96.Set(sqrtRatioTargetX96)
		} else if err := sqrtpricemath.GetNextSqrtPriceFromOutput(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, s.amountRemainingAbs, zeroForOne); err != nil {
			return err
		}
	}

	reachedTarget := sqrtRatioTargetX96.Cmp(sqrtRatioNextX96) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			if err := sqrtpricemath.GetAmount0Delta(amountIn, sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true); err != nil {
				return err
			}
		}
		if !(reachedTarget && !exactIn) {
			sqrtpricemath.GetAmount1Delta(amountOut, sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			sqrtpricemath.GetAmount1Delta(amountIn, sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			if err := sqrtpricemath.GetAmount0Delta(amountOut, sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, false); err != nil {
				return err
			}
		}
	}

	if !exactIn && amountOut.Cmp(s.amountRemainingAbs) > 0 {
		amountOut.Set(s.amountRemainingAbs)
	}

	if exactIn && sqrtRatioNextX96.Cmp(sqrtRatioTargetX96) != 0 {
		feeAmount.Sub(amountRemaining, amountIn)
	} else {
		s.tempValue.Sub(feeDenominator, feePips)
		s.mulDivRoundingUp(feeAmount, amountIn, feePips, s.tempValue)
	}

	return nil
}

func (s *scratch) mulDiv(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
}

func (s *scratch) mulDivRoundingUp(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
	if s.rem.Rem(s.product, c).Sign() > 0 {
		dest.Add(dest, one)
	}
}
