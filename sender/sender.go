// Package sender implements the Transaction Sender (C8): signs the winning
// execution envelope as an EIP-1559 type-2 transaction, posts its raw RLP
// encoding to the sequencer, and watches for inclusion in the background
// (spec.md §4.8).
package sender

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defistate/flasharb/contracts"
	"github.com/defistate/flasharb/engine"
)

// gasLimit is the fixed gas limit every executeArbitrage call is sent
// with (spec.md §4.8).
const gasLimit = 2_000_000

// receiptPollAttempts and receiptPollInterval bound the background
// inclusion watch: 10 attempts, 2 seconds apart (spec.md §4.8).
const (
	receiptPollAttempts = 10
	receiptPollInterval = 2 * time.Second
)

// Logger is the structured leveled logger every component takes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ReceiptFetcher is the narrow slice of an RPC client the receipt watcher
// needs; satisfied by ethclient.Client.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// httpPoster is the narrow slice of *http.Client the Sender depends on, so
// tests can substitute a fake transport without opening a socket.
type httpPoster interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender owns the signing key, the local nonce, and the keep-alive HTTP
// client the sequencer POSTs ride over. Cardinality 1: one Sender processes
// ValidPathEvents off a single channel in arrival order, so nonce
// assignment never races (spec.md §5).
type Sender struct {
	key     *ecdsa.PrivateKey
	signer  types.Signer
	chainID uint64

	contract common.Address
	nonce    uint64

	gas *GasStation

	sequencerURL string
	http         httpPoster
	receipts     ReceiptFetcher

	log Logger
}

// New builds a Sender. startNonce is the account's transaction count at
// startup (fetched externally over eth_getTransactionCount, out of scope
// per spec.md §6's external collaborators).
func New(key *ecdsa.PrivateKey, chainID uint64, contract common.Address, startNonce uint64, gas *GasStation, sequencerURL string, httpClient httpPoster, receipts ReceiptFetcher, log Logger) *Sender {
	return &Sender{
		key:          key,
		signer:       types.NewLondonSigner(new(big.Int).SetUint64(chainID)),
		chainID:      chainID,
		contract:     contract,
		nonce:        startNonce,
		gas:          gas,
		sequencerURL: sequencerURL,
		http:         httpClient,
		receipts:     receipts,
		log:          log,
	}
}

// NewHTTPClient builds a persistent keep-alive client matching spec.md
// §4.8's "keep-alive HTTP client": bounded idle connections per host, no
// idle timeout, TCP keep-alives, and a request deadline.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 10 * time.Second}
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     0,
		},
	}
}

// Run consumes validated paths in arrival order, signing and posting each
// before moving to the next (spec.md §5's single-writer nonce cardinality).
func (s *Sender) Run(ctx context.Context, valid <-chan engine.ValidPathEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-valid:
			if !ok {
				return
			}
			if err := s.send(ctx, ev); err != nil {
				s.log.Error("sender: send failed", "block", ev.BlockNumber, "error", err)
			}
		}
	}
}

// send builds, signs, and posts one transaction, then spawns a detached
// receipt watcher for it. The nonce is incremented only after a successful
// POST; on failure it is left untouched for the next attempt to reuse
// (spec.md §4.8 — "an extension point: drift detection and resync").
func (s *Sender) send(ctx context.Context, ev engine.ValidPathEvent) error {
	calldata, err := contracts.PackExecuteArbitrage(contracts.SwapParams{
		Pools:        ev.Params.Pools,
		PoolVersions: ev.Params.PoolVersions,
		AmountIn:     ev.Params.AmountIn,
	})
	if err != nil {
		return fmt.Errorf("sender: pack executeArbitrage: %w", err)
	}

	maxFee, priorityFee := s.gas.Fees(ev.Profit)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(s.chainID),
		Nonce:     s.nonce,
		GasTipCap: priorityFee,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &s.contract,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return fmt.Errorf("sender: sign tx: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return fmt.Errorf("sender: encode tx: %w", err)
	}

	txHash, err := s.postRawTransaction(ctx, raw)
	if err != nil {
		return fmt.Errorf("sender: post raw tx: %w", err)
	}
	s.nonce++

	s.log.Info("sender: posted transaction", "hash", txHash, "block", ev.BlockNumber, "nonce", signed.Nonce())

	go s.watchReceipt(txHash, ev.BlockNumber)
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonRPCResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postRawTransaction submits raw's EIP-2718 encoding to the sequencer via
// eth_sendRawTransaction and returns the resulting transaction hash.
func (s *Sender) postRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	rawHex := "0x" + hex.EncodeToString(raw)
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_sendRawTransaction",
		Params:  []any{rawHex},
		ID:      1,
	})
	if err != nil {
		return common.Hash{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sequencerURL, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return common.Hash{}, err
	}
	if rpcResp.Error != nil {
		return common.Hash{}, fmt.Errorf("sequencer rejected tx: %s", rpcResp.Error.Message)
	}
	return common.HexToHash(rpcResp.Result), nil
}

// watchReceipt polls for inclusion up to receiptPollAttempts times,
// receiptPollInterval apart; inclusion is logged, non-inclusion is silent
// (spec.md §4.8).
func (s *Sender) watchReceipt(txHash common.Hash, sentBlock uint64) {
	for i := 0; i < receiptPollAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), receiptPollInterval)
		receipt, err := s.receipts.TransactionReceipt(ctx, txHash)
		cancel()
		if err == nil && receipt != nil {
			s.log.Info("sender: transaction included", "hash", txHash, "sent_block", sentBlock, "landed_block", receipt.BlockNumber)
			return
		}
		time.Sleep(receiptPollInterval)
	}
}
