// Package v2 implements the constant-product (x*y=k) swap math shared by
// every Uniswap-V2-family pool, adapted from the teacher's
// protocols/uniswapv2/calculator package onto engine.Pool and the spec's
// fee-numerator table instead of a uniform basis-point fee.
package v2

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/flasharb/engine"
)

// feeDivisor is the constant-denominator "S" in the spec's V2 formula.
var feeDivisor = big.NewInt(10_000)

// FeeNumerator returns this pool's F, the spec's fee-numerator table
// (spec.md §4.2) for the V2-family protocols, and the pool's own stored fee
// for Aerodrome volatile pools, which carry a per-pool fee parameter.
func FeeNumerator(pool *engine.Pool) (uint32, error) {
	switch pool.Type {
	case engine.PoolTypeUniswapV2, engine.PoolTypeSushiSwapV2, engine.PoolTypeSwapBasedV2:
		return 9970, nil
	case engine.PoolTypePancakeSwapV2, engine.PoolTypeBaseSwapV2, engine.PoolTypeDackieSwapV2:
		return 9975, nil
	case engine.PoolTypeAlienBaseV2:
		return 9984, nil
	case engine.PoolTypeAerodromeVolatile:
		return pool.Fee, nil
	default:
		return 0, fmt.Errorf("%w: pool type %s is not a V2 family", ErrTokenMismatch, pool.Type)
	}
}

var (
	// ErrNilAmount is returned when a nil pointer is passed for an amount.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidAmount is returned when an input amount is negative.
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
	// ErrTokenMismatch is returned when the given tokens do not match the pool's tokens.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInvalidState is returned for internal calculation errors, like division by zero.
	ErrInvalidState = errors.New("invalid internal state")
)

// calculator holds reusable big.Int fields to avoid allocation on the hot
// path. Not safe for concurrent use directly; managed through calculatorPool.
type calculator struct {
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &calculator{
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
		}
	},
}

// GetAmountOut computes the swap output for amountIn flowing tokenIn -> the
// pool's other token, per spec.md §4.2's V2 formula.
func GetAmountOut(amountIn *big.Int, tokenIn engine.Address, pool *engine.Pool) (*big.Int, error) {
	c := calculatorPool.Get().(*calculator)
	defer calculatorPool.Put(c)
	return c.getAmountOut(amountIn, tokenIn, pool)
}

func (c *calculator) getAmountOut(amountIn *big.Int, tokenIn engine.Address, pool *engine.Pool) (*big.Int, error) {
	if amountIn == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	reserveIn, reserveOut, err := GetReserves(tokenIn, pool)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int), nil
	}

	f, err := FeeNumerator(pool)
	if err != nil {
		return nil, err
	}

	c.feeMultiplier.SetUint64(uint64(f))
	c.amountInWithFee.Mul(amountIn, c.feeMultiplier)
	c.numerator.Mul(reserveOut, c.amountInWithFee)
	c.denominator.Mul(reserveIn, feeDivisor)
	c.denominator.Add(c.denominator, c.amountInWithFee)

	if c.denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}
	return new(big.Int).Div(c.numerator, c.denominator), nil
}

// GetReserves returns (reserveIn, reserveOut) for the swap direction
// starting at tokenIn.
func GetReserves(tokenIn engine.Address, pool *engine.Pool) (reserveIn, reserveOut *big.Int, err error) {
	switch tokenIn {
	case pool.Token0:
		return pool.V2Reserve0, pool.V2Reserve1, nil
	case pool.Token1:
		return pool.V2Reserve1, pool.V2Reserve0, nil
	default:
		return nil, nil, fmt.Errorf("%w: pool %s does not contain token %s", ErrTokenMismatch, pool.Address, tokenIn)
	}
}
