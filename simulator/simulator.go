// Package simulator implements the Simulator (C7): an in-process EVM call
// against the mirrored state store that confirms a searcher-ranked cycle
// with a ground-truth quote, binary-searches (in practice, steps) the
// optimal input, and hands the sender a signed-transaction envelope
// (spec.md §4.7).
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/defistate/flasharb/contracts"
	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/rates"
	"github.com/defistate/flasharb/state"
)

// optimalInputDelta and optimalInputMaxIters bound the local step search of
// spec.md §4.7: step the input upward by Δ for up to 50 iterations.
var optimalInputDelta = big.NewInt(2 * 100_000_000_000_000) // 2e14

const optimalInputMaxIters = 50

// erc20BalanceMappingSlot is the slot index of OpenZeppelin's _balances
// mapping, used to compute the warm-up sentinel balance slot (spec.md
// §4.7: keccak256(abi_encode(caller, 3))).
const erc20BalanceMappingSlot = 3

// ErrBlacklisted is returned for a cycle hash that previously reverted;
// the simulator never retries it until process restart (spec.md §4.7).
var ErrBlacklisted = errors.New("simulator: path is blacklisted after a prior revert")

// Logger is the structured leveled logger every component takes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Simulator owns the mirrored state's write-side EVM calls. Cardinality 1
// (spec.md §5); s.mu serializes successive simulations against each other.
// It intentionally does NOT hold the state store's own lock for the
// duration of a call: the StateDB adapter re-enters the store's individual
// (already-locked) Basic/Storage methods on every read, and holding the
// store's coarse lock across that re-entry would deadlock against Go's
// non-reentrant sync.RWMutex. Each store access remains atomic on its own;
// this mutex instead gives the single-writer-at-a-time guarantee the spec
// actually needs (see DESIGN.md, Open Question decisions).
type Simulator struct {
	mu sync.Mutex

	store  *state.Store
	caller common.Address
	config *params.ChainConfig
	gasLimit uint64

	sim       bool // dry-run mode: compare quote to estimate, never emit
	blacklist mapset.Set[uint64]

	log     Logger
	validCh chan engine.ValidPathEvent
}

// New builds a Simulator. sim toggles dry-run mode (spec.md §4.7's SIM
// flag).
func New(store *state.Store, caller common.Address, config *params.ChainConfig, gasLimit uint64, sim bool, log Logger) *Simulator {
	return &Simulator{
		store:     store,
		caller:    caller,
		config:    config,
		gasLimit:  gasLimit,
		sim:       sim,
		blacklist: mapset.NewSet[uint64](),
		log:       log,
		validCh:   make(chan engine.ValidPathEvent, 100),
	}
}

// ValidPaths is point-to-point, C7 -> C8 (spec.md §3).
func (s *Simulator) ValidPaths() <-chan engine.ValidPathEvent { return s.validCh }

// erc20BalanceSlot computes keccak256(abi_encode(owner, 3)), matching
// OpenZeppelin's _balances mapping at slot 3 (spec.md §4.7).
func erc20BalanceSlot(owner common.Address) common.Hash {
	var buf [64]byte
	copy(buf[12:32], owner.Bytes())
	copy(buf[32:64], common.BigToHash(big.NewInt(erc20BalanceMappingSlot)).Bytes())
	return crypto.Keccak256Hash(buf[:])
}

// WarmUp seeds the quoter/flash-swap bytecode at their fixed addresses,
// gives the caller a sentinel ERC20 balance for every candidate input
// token, and commits one approve transaction per token so the quoter
// contract can pull from that balance (spec.md §4.7).
func (s *Simulator) WarmUp(ctx context.Context, tokens []common.Address, sentinelBalance *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.SetCode(contracts.QuoterAddress, contracts.QuoterBytecode())
	s.store.SetCode(contracts.FlashSwapAddress, contracts.FlashSwapBytecode())

	for _, token := range tokens {
		s.store.SetStorage(token, erc20BalanceSlot(s.caller), common.BigToHash(sentinelBalance))
		if err := s.commitApprove(ctx, token); err != nil {
			return fmt.Errorf("simulator: warm-up approve(%s): %w", token, err)
		}
	}
	return nil
}

// commitApprove runs approve(quoter, max) against token's real bytecode
// (already lazily fetched by the adapter's Basic/GetCode) and commits the
// resulting storage write into the store.
func (s *Simulator) commitApprove(ctx context.Context, token common.Address) error {
	calldata, err := contracts.PackApprove(contracts.QuoterAddress, sentinelApproveAmount())
	if err != nil {
		return err
	}
	db := NewStateDB(ctx, s.store)
	_, _, err = runtime.Call(token, calldata, s.runtimeConfig(db))
	if err != nil {
		return err
	}
	db.Commit()
	return nil
}

func sentinelApproveAmount() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 255) // an effectively unlimited allowance
}

func (s *Simulator) runtimeConfig(db *StateDB) *runtime.Config {
	return &runtime.Config{
		ChainConfig: s.config,
		Origin:      s.caller,
		GasLimit:    s.gasLimit,
		State:       db,
	}
}

// quote ABI-encodes and calls FlashQuoter.quoteArbitrage for one candidate
// input, returning the round-trip output (the last element of the
// returned amounts array).
func (s *Simulator) quote(ctx context.Context, path engine.Cycle, amountIn *big.Int) (*big.Int, error) {
	swapParams := toSwapParams(path, amountIn)
	calldata, err := contracts.PackQuoteArbitrage(swapParams)
	if err != nil {
		return nil, fmt.Errorf("simulator: pack quoteArbitrage: %w", err)
	}

	db := NewStateDB(ctx, s.store)
	ret, _, err := runtime.Call(contracts.QuoterAddress, calldata, s.runtimeConfig(db))
	if err != nil {
		if errors.Is(err, vm.ErrExecutionReverted) {
			return nil, fmt.Errorf("%w: %v", errReverted, err)
		}
		return nil, err
	}

	amounts, err := contracts.UnpackQuoteArbitrage(ret)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, errEmptyQuote
	}
	return amounts[len(amounts)-1], nil
}

var (
	errReverted   = errors.New("simulator: quoter call reverted")
	errEmptyQuote = errors.New("simulator: quoter returned no amounts")
)

func toSwapParams(path engine.Cycle, amountIn *big.Int) contracts.SwapParams {
	pools := make([]common.Address, len(path.Steps))
	versions := make([]uint8, len(path.Steps))
	for i, step := range path.Steps {
		pools[i] = step.Pool
		if step.Protocol == engine.PoolTypeUniswapV3 {
			versions[i] = 1
		}
	}
	return contracts.SwapParams{Pools: pools, PoolVersions: versions, AmountIn: amountIn}
}

// HandleArbPath confirms one ArbPathEvent with a ground-truth EVM quote,
// then either logs a SIM-mode comparison or runs the optimal-input search
// and emits a ValidPathEvent (spec.md §4.7). The call (and, on success,
// the search) runs under s.mu, the simulator's single-writer-at-a-time
// section.
func (s *Simulator) HandleArbPath(ctx context.Context, ev engine.ArbPathEvent, estimator *rates.Table) error {
	if s.blacklist.Contains(ev.Path.Hash) {
		return ErrBlacklisted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quoted, err := s.quote(ctx, ev.Path, ev.ExpectedOut)
	if err != nil {
		if errors.Is(err, errReverted) {
			s.blacklist.Add(ev.Path.Hash)
			s.log.Warn("simulator: path reverted, blacklisting", "hash", ev.Path.Hash, "error", err)
			return err
		}
		s.log.Warn("simulator: quote failed without reverting, not blacklisting", "hash", ev.Path.Hash, "error", err)
		return err
	}

	if s.sim {
		estimate := estimator.EstimateOutput(ev.Path, ev.ExpectedOut)
		match := quoted.Cmp(estimate) == 0
		s.log.Info("simulator: SIM dry-run quote", "hash", ev.Path.Hash, "quoted", quoted, "estimate", estimate, "match", match)
		return nil
	}

	bestInput, bestOutput, err := s.searchOptimalInput(ctx, ev.Path, ev.ExpectedOut, quoted)
	if err != nil {
		return err
	}

	profit := new(big.Int).Sub(bestOutput, ev.ExpectedOut)
	winning := toSwapParams(ev.Path, bestInput)
	s.validCh <- engine.ValidPathEvent{
		Params:      engine.ExecParams{Pools: winning.Pools, PoolVersions: winning.PoolVersions, AmountIn: bestInput},
		Profit:      profit,
		BlockNumber: ev.BlockNumber,
	}
	return nil
}

// searchOptimalInput steps the input upward by optimalInputDelta for up to
// optimalInputMaxIters iterations, keeping the best (input, output) where
// output exceeds both the input and the running best, and stopping at the
// first step that violates either condition (spec.md §4.7).
func (s *Simulator) searchOptimalInput(ctx context.Context, path engine.Cycle, startInput, startOutput *big.Int) (*big.Int, *big.Int, error) {
	bestInput := new(big.Int).Set(startInput)
	bestOutput := new(big.Int).Set(startOutput)

	input := new(big.Int).Set(startInput)
	for i := 0; i < optimalInputMaxIters; i++ {
		input = new(big.Int).Add(input, optimalInputDelta)
		output, err := s.quote(ctx, path, input)
		if err != nil {
			break // a step failing mid-search is not itself a revert verdict on the base path
		}
		if output.Cmp(input) <= 0 || output.Cmp(bestOutput) <= 0 {
			break
		}
		bestInput = input
		bestOutput = output
	}
	return bestInput, bestOutput, nil
}
