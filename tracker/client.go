package tracker

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ethChain adapts a single *rpc.Client connection into the Chain interface,
// combining ethclient's typed calls with the raw CallContext needed for
// debug_traceBlockByNumber (not exposed by ethclient.Client).
type ethChain struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewEthChain builds a Chain backed by a single node connection (typically
// IPC, per spec.md §4.5).
func NewEthChain(rpcClient *rpc.Client) Chain {
	return &ethChain{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}
}

func (c *ethChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}

func (c *ethChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *ethChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *ethChain) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}
