// Package ledger reads round votes from the QV strategy contracts and writes
// finalized distributions to the payout strategy.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the part of an ethclient the readers depend on.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TxBackend is what sending and awaiting payout transactions requires.
type TxBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// maxLogRange bounds the block span of a single eth_getLogs request.
const maxLogRange uint64 = 5000

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, unavailable("dial", err)
	}
	return client, nil
}

// FilterLogsChunked walks [from, to] in windows of maxLogRange blocks.
func FilterLogsChunked(ctx context.Context, b Backend, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	var out []types.Log
	for start := from; start <= to; start += maxLogRange {
		end := start + maxLogRange - 1
		if end > to || end < start {
			end = to
		}
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)
		logs, err := b.FilterLogs(ctx, q)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("filter logs %d-%d", start, end), err)
		}
		out = append(out, logs...)
		if end == to {
			break
		}
	}
	return out, nil
}
