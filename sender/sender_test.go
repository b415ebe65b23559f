package sender

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/defistate/flasharb/engine"
)

type noopLog struct{}

func (noopLog) Debug(string, ...any) {}
func (noopLog) Info(string, ...any)  {}
func (noopLog) Warn(string, ...any)  {}
func (noopLog) Error(string, ...any) {}

type fakeDoer struct {
	lastBody []byte
	response jsonRPCResponse
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	f.lastBody = body
	payload, _ := json.Marshal(f.response)
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(string(payload)))}, nil
}

type fakeReceipts struct {
	receipt *types.Receipt
	calls   int
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.calls++
	return f.receipt, nil
}

func TestGasStationFeesFollowSpecFormula(t *testing.T) {
	g := NewGasStation()
	g.UpdateBaseFee(15_000_000, 30_000_000, 1_000_000_000) // gas_used == target(half limit) -> unchanged base fee
	maxFee, priorityFee := g.Fees(big.NewInt(700_000))
	// max_total_gas_spend = 350_000, priority_fee = 350_000/350_000 = 1
	require.Equal(t, 0, priorityFee.Cmp(big.NewInt(1)))
	require.Equal(t, 0, maxFee.Cmp(big.NewInt(1_000_000_001)))
}

func TestNextBaseFeeRisesWhenAboveTarget(t *testing.T) {
	got := NextBaseFee(20_000_000, 30_000_000, 1_000_000_000) // target = 15,000,000
	require.True(t, got > 1_000_000_000)
}

func TestNextBaseFeeFallsWhenBelowTarget(t *testing.T) {
	got := NextBaseFee(10_000_000, 30_000_000, 1_000_000_000) // target = 15,000,000
	require.True(t, got < 1_000_000_000)
}

func TestNextBaseFeeUnchangedAtTarget(t *testing.T) {
	got := NextBaseFee(15_000_000, 30_000_000, 1_000_000_000)
	require.Equal(t, uint64(1_000_000_000), got)
}

func newTestSender(t *testing.T, doer *fakeDoer, receipts *fakeReceipts) *Sender {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	gas := NewGasStation()
	gas.UpdateBaseFee(0, 30_000_000, 1_000_000_000)
	return New(key, 8453, common.HexToAddress("0xF1A54"), 5, gas, "https://sequencer.example", doer, receipts, noopLog{})
}

func TestSendIncrementsNonceOnSuccessAndPostsSignedTx(t *testing.T) {
	txHash := common.HexToHash("0xABCDEF")
	doer := &fakeDoer{response: jsonRPCResponse{Result: txHash.Hex()}}
	receipts := &fakeReceipts{}
	s := newTestSender(t, doer, receipts)

	ev := engine.ValidPathEvent{
		Params:      engine.ExecParams{Pools: []common.Address{common.HexToAddress("0x1")}, PoolVersions: []uint8{0}, AmountIn: big.NewInt(1_000_000)},
		Profit:      big.NewInt(700_000),
		BlockNumber: 42,
	}

	require.NoError(t, s.send(context.Background(), ev))
	require.Equal(t, uint64(6), s.nonce)
	require.Contains(t, string(doer.lastBody), "eth_sendRawTransaction")
}

func TestSendDoesNotAdvanceNonceOnSequencerError(t *testing.T) {
	doer := &fakeDoer{response: jsonRPCResponse{Error: &struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: -32000, Message: "nonce too low"}}}
	receipts := &fakeReceipts{}
	s := newTestSender(t, doer, receipts)

	ev := engine.ValidPathEvent{
		Params:      engine.ExecParams{Pools: []common.Address{common.HexToAddress("0x1")}, PoolVersions: []uint8{0}, AmountIn: big.NewInt(1_000_000)},
		Profit:      big.NewInt(700_000),
		BlockNumber: 42,
	}

	err := s.send(context.Background(), ev)
	require.Error(t, err)
	require.Equal(t, uint64(5), s.nonce)
}

func TestWatchReceiptStopsOnFirstSuccessfulPoll(t *testing.T) {
	doer := &fakeDoer{}
	receipts := &fakeReceipts{receipt: &types.Receipt{BlockNumber: big.NewInt(100)}}
	s := newTestSender(t, doer, receipts)

	done := make(chan struct{})
	go func() {
		s.watchReceipt(common.HexToHash("0x1"), 99)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("watchReceipt did not return after a successful poll")
	}
	require.Equal(t, 1, receipts.calls)
}
