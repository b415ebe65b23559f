package sender

import (
	"math/big"
	"sync/atomic"
)

// gasLimitBudget is the denominator spec.md §4.8 divides the gas spend
// budget by to get a priority fee; distinct from the transaction's own
// gas_limit.
const gasLimitBudget = 350_000

// GasStation derives (max_fee_per_gas, max_priority_fee_per_gas) from a
// candidate's profit, tracking the chain's current base fee as it updates
// on every new block (spec.md §4.8).
type GasStation struct {
	baseFee atomic.Uint64
}

// NewGasStation builds a station with no base fee observed yet; callers
// must feed it at least one UpdateBaseFee before taking fees seriously.
func NewGasStation() *GasStation {
	return &GasStation{}
}

// UpdateBaseFee advances the tracked base fee using the current block's
// (gasUsed, gasLimit, baseFee) via the canonical next-base-fee formula.
func (g *GasStation) UpdateBaseFee(gasUsed, gasLimit, baseFee uint64) {
	g.baseFee.Store(NextBaseFee(gasUsed, gasLimit, baseFee))
}

// Fees returns (maxFeePerGas, maxPriorityFeePerGas) for a transaction whose
// execution is expected to yield profit. max_total_gas_spend = profit / 2,
// priority_fee = max_total_gas_spend / 350_000, max_fee = base_fee +
// priority_fee (spec.md §4.8).
func (g *GasStation) Fees(profit *big.Int) (maxFee, priorityFee *big.Int) {
	baseFee := new(big.Int).SetUint64(g.baseFee.Load())

	maxTotalGasSpend := new(big.Int).Div(profit, big.NewInt(2))
	priorityFee = new(big.Int).Div(maxTotalGasSpend, big.NewInt(gasLimitBudget))
	maxFee = new(big.Int).Add(baseFee, priorityFee)
	return maxFee, priorityFee
}
