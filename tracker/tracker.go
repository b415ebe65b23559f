// Package tracker implements the Block Tracker (C5): a newHeads
// subscription that traces every incoming block in prestate-diff mode,
// applies touched tracked-pool storage into the Mirrored State Store, and
// fans out NewBlock/PoolsTouched events (spec.md §4.5).
//
// Grounded on the teacher's streams/jsonrpc/client/client.go reconnect loop
// (exponential backoff between initialReconnectDelay and maxReconnectDelay,
// a dedicated error channel, context-aware shutdown); the diff-application
// payload shape is grounded on the vechain-thor prestate tracer's
// pre/post-account map in other_examples/.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/state"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	traceRetryDelay       = 2 * time.Second
)

// Logger is the structured leveled logger every component takes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Chain is the subset of go-ethereum's client surface the tracker needs:
// a head subscription plus raw debug_traceBlockByNumber access.
type Chain interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// PrestateAccount is one account entry of a prestateTracer diff-mode frame.
type PrestateAccount struct {
	Balance string                 `json:"balance,omitempty"`
	Nonce   uint64                 `json:"nonce,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Storage map[common.Hash]string `json:"storage,omitempty"`
}

type diffModeResult struct {
	Pre  map[common.Address]PrestateAccount `json:"pre"`
	Post map[common.Address]PrestateAccount `json:"post"`
}

type txTraceResult struct {
	Result diffModeResult `json:"result"`
}

// traceConfig is the debug_traceBlockByNumber tracer config for prestate
// diff mode with code and storage enabled (spec.md §4.5).
type traceConfig struct {
	Tracer       string             `json:"tracer"`
	TracerConfig prestateTracerOpts `json:"tracerConfig"`
}

type prestateTracerOpts struct {
	DiffMode bool `json:"diffMode"`
}

// Tracker owns the newHeads subscription and block-tracing pipeline.
type Tracker struct {
	chain Chain
	store *state.Store
	log   Logger

	mu              sync.RWMutex
	trackedPools    mapset.Set[common.Address]
	lastSyncedBlock uint64
	caughtUp        bool
	retryDelay      time.Duration

	blockCh   chan engine.NewBlockEvent
	touchedCh chan engine.PoolsTouchedEvent
	errCh     chan error
}

// New builds a tracker that resumes from lastSyncedBlock (0 if fresh).
func New(chain Chain, store *state.Store, trackedPools mapset.Set[common.Address], lastSyncedBlock uint64, log Logger) *Tracker {
	return &Tracker{
		chain:           chain,
		store:           store,
		log:             log,
		trackedPools:    trackedPools,
		lastSyncedBlock: lastSyncedBlock,
		retryDelay:      traceRetryDelay,
		blockCh:         make(chan engine.NewBlockEvent, 100),
		touchedCh:       make(chan engine.PoolsTouchedEvent, 100),
		errCh:           make(chan error, 1),
	}
}

// NewBlocks carries one event per processed block (spec.md §3). It is a
// single channel, not a fan-out: each event is received by one reader.
func (t *Tracker) NewBlocks() <-chan engine.NewBlockEvent { return t.blockCh }

// PoolsTouched is point-to-point, C5 -> C6 (spec.md §3).
func (t *Tracker) PoolsTouched() <-chan engine.PoolsTouchedEvent { return t.touchedCh }

// Err is closed when Run returns. Run sends no error values on it:
// subscription and trace failures are logged and retried.
func (t *Tracker) Err() <-chan error { return t.errCh }

// CaughtUp reports whether the catch-up backfill has completed.
func (t *Tracker) CaughtUp() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caughtUp
}

// Run drives the subscribe/catch-up/consume loop until ctx is canceled,
// reconnecting with exponential backoff on subscription failure (grounded
// on the teacher's Client.run).
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.errCh)
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			t.log.Info("tracker context canceled, shutting down")
			return
		}

		headerCh := make(chan *types.Header, 16)
		sub, err := t.chain.SubscribeNewHead(ctx, headerCh)
		if err != nil {
			t.log.Error("newHeads subscription failed, will retry", "error", err, "delay", delay)
			time.Sleep(delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		t.log.Info("subscribed to newHeads")
		delay = initialReconnectDelay

		err = t.consume(ctx, headerCh, sub)
		sub.Unsubscribe()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.log.Info("context canceled, shutting down")
				return
			}
			t.log.Error("subscription consumption failed, reconnecting", "error", err, "delay", delay)
			time.Sleep(delay)
			delay = min(delay*2, maxReconnectDelay)
		}
	}
}

// consume runs catch-up once, then processes live headers in arrival order.
// Headers older than the catch-up frontier are dropped, per spec.md §4.5's
// "buffered or dropped if older than the catch-up frontier".
func (t *Tracker) consume(ctx context.Context, headerCh <-chan *types.Header, sub ethereum.Subscription) error {
	if !t.CaughtUp() {
		if err := t.catchUp(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case h := <-headerCh:
			number := h.Number.Uint64()
			if number <= t.lastSyncedBlockSnapshot() {
				continue // stale relative to the catch-up frontier
			}
			if err := t.processBlock(ctx, number); err != nil {
				return err
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tracker) lastSyncedBlockSnapshot() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSyncedBlock
}

// catchUp sequentially traces and applies every block from
// lastSyncedBlock+1 through the current head before switching to live
// streaming (spec.md §4.5).
func (t *Tracker) catchUp(ctx context.Context) error {
	head, err := t.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("tracker: fetch head for catch-up: %w", err)
	}
	start := t.lastSyncedBlockSnapshot() + 1
	t.log.Info("starting catch-up", "from", start, "to", head)

	for n := start; n <= head; n++ {
		if err := t.processBlock(ctx, n); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.caughtUp = true
	t.mu.Unlock()
	t.log.Info("catch-up complete", "block", head)
	return nil
}

// processBlock traces block n, applies touched tracked-pool storage, and
// emits NewBlock/PoolsTouched. Trace failures retry indefinitely with
// bounded backoff without advancing lastSyncedBlock — a stuck tracer stalls
// the whole pipeline by design (spec.md §4.5).
func (t *Tracker) processBlock(ctx context.Context, number uint64) error {
	header, err := t.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("tracker: fetch header %d: %w", number, err)
	}

	var touched mapset.Set[common.Address]
	for {
		touched, err = t.traceAndApply(ctx, number)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("trace failed, retrying", "block", number, "error", err, "delay", t.retryDelay)
		time.Sleep(t.retryDelay)
	}

	t.blockCh <- engine.NewBlockEvent{Header: toBlockHeader(header)}
	if touched.Cardinality() > 0 {
		t.touchedCh <- engine.PoolsTouchedEvent{Pools: touched.ToSlice(), BlockNumber: number}
	}

	t.mu.Lock()
	t.lastSyncedBlock = number
	t.mu.Unlock()
	return nil
}

// traceAndApply invokes debug_traceBlockByNumber in prestate diff mode,
// merges every transaction's post map, filters to tracked pools, writes the
// raw slots into the store with Custom provenance, and refreshes each
// touched pool's decoded view.
func (t *Tracker) traceAndApply(ctx context.Context, number uint64) (mapset.Set[common.Address], error) {
	var results []txTraceResult
	blockParam := fmt.Sprintf("0x%x", number)
	cfg := traceConfig{Tracer: "prestateTracer", TracerConfig: prestateTracerOpts{DiffMode: true}}
	if err := t.chain.CallContext(ctx, &results, "debug_traceBlockByNumber", blockParam, cfg); err != nil {
		return nil, fmt.Errorf("debug_traceBlockByNumber(%d): %w", number, err)
	}

	touched := mapset.NewSet[common.Address]()
	for _, tx := range results {
		for addr, acct := range tx.Result.Post {
			if !t.trackedPools.Contains(addr) {
				continue
			}
			for slot, rawHex := range acct.Storage {
				t.store.SetStorage(addr, slot, common.HexToHash(rawHex))
			}
			touched.Add(addr)
		}
	}

	for _, addr := range touched.ToSlice() {
		t.refreshPool(addr)
	}
	return touched, nil
}

// refreshPool re-derives a tracked pool's decoded view from whatever raw
// slots were just written for it.
func (t *Tracker) refreshPool(addr common.Address) {
	pool, ok := t.store.Pool(addr)
	if !ok {
		return
	}
	var err error
	if pool.Type.IsV3() {
		if slot0, e := t.storageNoFetch(addr, state.V3Slot0Slot()); e {
			err = state.ApplyV3Slot0Diff(t.store, addr, slot0)
		}
		if liq, e := t.storageNoFetch(addr, state.V3LiquiditySlot()); e {
			err = state.ApplyV3LiquidityDiff(t.store, addr, liq)
		}
	} else {
		if slot8, e := t.storageNoFetch(addr, state.V2ReserveSlot()); e {
			err = state.ApplyV2ReserveDiff(t.store, addr, slot8)
		}
	}
	if err != nil {
		t.log.Warn("failed to refresh pool after trace diff", "pool", addr, "error", err)
	}
}

// storageNoFetch reads a slot back from the store. A slot the block's diff
// just wrote is served from the store; one the diff did not write falls
// through to Store.Storage's lazy fetch from the chain.
func (t *Tracker) storageNoFetch(addr common.Address, slot common.Hash) (common.Hash, bool) {
	val, err := t.store.Storage(context.Background(), addr, slot)
	return val, err == nil
}

func toBlockHeader(h *types.Header) engine.BlockHeader {
	bh := engine.BlockHeader{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		GasUsed:    h.GasUsed,
		GasLimit:   h.GasLimit,
		Timestamp:  h.Time,
	}
	if h.BaseFee != nil {
		bh.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	return bh
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
