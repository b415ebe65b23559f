// cmd/searcher wires the Mirrored State Store, Block Tracker, Cycle Graph,
// Rate Estimator, Searcher, Simulator, and Transaction Sender together into
// one running process (spec.md §3's C1-C8 pipeline), following the
// teacher's cmd/client/main.go wiring style: a slog JSON handler, a
// prometheus.DefaultRegisterer, and signal.NotifyContext-driven shutdown.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/flasharb/config"
	"github.com/defistate/flasharb/engine"
	"github.com/defistate/flasharb/graph"
	"github.com/defistate/flasharb/logging"
	"github.com/defistate/flasharb/metrics"
	"github.com/defistate/flasharb/poolseed"
	"github.com/defistate/flasharb/quoter"
	"github.com/defistate/flasharb/rates"
	"github.com/defistate/flasharb/searcher"
	"github.com/defistate/flasharb/sender"
	"github.com/defistate/flasharb/simulator"
	"github.com/defistate/flasharb/state"
	"github.com/defistate/flasharb/tracker"
)

const maxHopsDefault = 2

func main() {
	rootLogger := logging.New(os.Stdout, slog.LevelInfo, logging.FileConfig{})

	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rootLogger, prometheus.DefaultRegisterer); err != nil {
		rootLogger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	return config.Load(*path)
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, registry prometheus.Registerer) error {
	m := metrics.New(registry)

	seed, err := poolseed.Load(cfg.PoolsPath)
	if err != nil {
		return fmt.Errorf("loading seed pool set: %w", err)
	}
	seedPools := seed.Pools

	rpcClient, err := rpc.DialContext(ctx, cfg.Full)
	if err != nil {
		return fmt.Errorf("dialing RPC endpoint: %w", err)
	}
	ethClient := ethclient.NewClient(rpcClient)

	store := state.New(ethClient)
	trackedAddrs := mapset.NewSet[common.Address]()
	for _, pool := range seedPools {
		store.TrackPool(pool.Address, pool)
		trackedAddrs.Add(pool.Address)
	}

	chain := tracker.NewEthChain(rpcClient)
	trk := tracker.New(chain, store, trackedAddrs, seed.LastSyncedBlock, log.With("component", "tracker"))

	tokenGraph := graph.Build(seedPools)
	weth := cfg.WethAddress()
	cycles := tokenGraph.FindCycles(weth, orDefault(cfg.MaxHops, maxHopsDefault))
	log.Info("enumerated cycles", "count", len(cycles))

	engCtx := engine.Context{Amount: cfg.Amount(), Weth: weth, ChainID: cfg.ChainID}

	rateTable := rates.New()
	rateTable.ProcessPools(seedPools, weth, engCtx.Amount)

	quoteCache := quoter.NewCache()
	search := searcher.New(cycles, store, rateTable, quoteCache, engCtx, log.With("component", "searcher"))

	caller := common.HexToAddress(cfg.Account)
	sim := simulator.New(store, caller, baseChainConfig(cfg.ChainID), 2_000_000, cfg.Sim, log.With("component", "simulator"))

	if err := sim.WarmUp(ctx, candidateInputTokens(seedPools), sentinelBalance()); err != nil {
		return fmt.Errorf("warming up simulator: %w", err)
	}

	gasStation := sender.NewGasStation()

	var txSender *sender.Sender
	if !cfg.Sim {
		txSender, err = buildSender(ctx, cfg, ethClient, gasStation, log)
		if err != nil {
			return fmt.Errorf("building transaction sender: %w", err)
		}
	}

	go trk.Run(ctx)
	go search.Run(ctx, trk.PoolsTouched())
	go driveArbPaths(ctx, sim, search.ArbPaths(), rateTable, m)
	if txSender != nil {
		go txSender.Run(ctx, sim.ValidPaths())
	}

	for {
		select {
		case ev := <-trk.NewBlocks():
			m.BlocksSeen.Inc()
			if ev.Header.BaseFee != nil {
				gasStation.UpdateBaseFee(ev.Header.GasUsed, ev.Header.GasLimit, ev.Header.BaseFee.Uint64())
			}
		case err := <-trk.Err():
			return fmt.Errorf("tracker stopped: %w", err)
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		}
	}
}

// driveArbPaths feeds every emitted ArbPathEvent into the simulator in
// arrival order (spec.md §5's single simulator cardinality).
func driveArbPaths(ctx context.Context, sim *simulator.Simulator, arbPaths <-chan engine.ArbPathEvent, rateTable *rates.Table, m *metrics.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-arbPaths:
			if !ok {
				return
			}
			m.CyclesEvaluated.Inc()
			if err := sim.HandleArbPath(ctx, ev, rateTable); err != nil {
				m.SimReverts.Inc()
			}
		}
	}
}

// baseChainConfig builds the chain rules set runtime.Call needs: every EVM
// hard fork enabled, since Base runs a fully-upgraded London+ ruleset at
// the block heights this engine simulates against.
func baseChainConfig(chainID uint64) *params.ChainConfig {
	cfg := *params.AllEthashProtocolChanges
	cfg.ChainID = new(big.Int).SetUint64(chainID)
	return &cfg
}

func buildSender(ctx context.Context, cfg *config.Config, ethClient *ethclient.Client, gasStation *sender.GasStation, log *slog.Logger) (*sender.Sender, error) {
	keyBytes, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding PRIVATE_KEY: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PRIVATE_KEY: %w", err)
	}

	account := common.HexToAddress(cfg.Account)
	nonce, err := ethClient.NonceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching starting nonce: %w", err)
	}

	contract := common.HexToAddress(cfg.SwapContract)
	httpClient := sender.NewHTTPClient()

	return sender.New(key, cfg.ChainID, contract, nonce, gasStation, cfg.SequencerURL, httpClient, ethClient, log.With("component", "sender")), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// candidateInputTokens returns every distinct token0 across the seed pool
// set, the same per-pool warm-up set the original warm_up_database builds
// (one sentinel balance + approve per pool's input token, not just weth).
func candidateInputTokens(pools []*engine.Pool) []common.Address {
	seen := mapset.NewSet[common.Address]()
	tokens := make([]common.Address, 0, len(pools))
	for _, pool := range pools {
		if seen.Add(pool.Token0) {
			tokens = append(tokens, pool.Token0)
		}
	}
	return tokens
}

// sentinelBalance is the warm-up ERC20 balance seeded for every candidate
// input token: 10 whole tokens at 18 decimals, matching the original
// warm_up_database's ten_units literal.
func sentinelBalance() *big.Int {
	return new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
