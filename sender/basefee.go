package sender

// NextBaseFee computes the following block's base fee per gas from the
// current block's (gasUsed, gasLimit, baseFee), using the canonical
// EIP-1559 adjustment the OP-stack's Canyon fee params also use:
// denominator 8, elasticity multiplier 2 (spec.md §4.8). No pack repo
// carries OP-stack fee math, so this is a from-scratch port of the
// formula rather than an imported implementation (see DESIGN.md).
const (
	baseFeeChangeDenominator = 8
	baseFeeElasticity        = 2
)

func NextBaseFee(gasUsed, gasLimit, baseFee uint64) uint64 {
	if gasLimit == 0 {
		return baseFee
	}
	gasTarget := gasLimit / baseFeeElasticity
	if gasTarget == 0 {
		return baseFee
	}

	switch {
	case gasUsed == gasTarget:
		return baseFee
	case gasUsed > gasTarget:
		delta := gasUsed - gasTarget
		change := baseFee * delta / gasTarget / baseFeeChangeDenominator
		if change < 1 {
			change = 1
		}
		return baseFee + change
	default:
		delta := gasTarget - gasUsed
		change := baseFee * delta / gasTarget / baseFeeChangeDenominator
		if change > baseFee {
			return 0
		}
		return baseFee - change
	}
}
