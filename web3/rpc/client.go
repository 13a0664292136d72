package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/vocdoni/verifier-deployer/log"
)

// Client struct implements the backend used by the deployer for a web3 pool
// with an specific chainID. Read calls are retried on the next available
// endpoint when the current one cannot be reached.
type Client struct {
	w3p     *Web3Pool
	chainID uint64
}

// sendMethods are the JSON-RPC methods that must reach the network at most
// once.
var sendMethods = map[string]bool{
	"eth_sendTransaction":    true,
	"eth_sendRawTransaction": true,
}

// ChainID method returns the chainID of the endpoints of the client.
func (c *Client) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(c.chainID), nil
}

// BlockNumber method wraps the BlockNumber method of the current endpoint.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return retry(ctx, c, "BlockNumber", func(cli *ethclient.Client) (uint64, error) {
		return cli.BlockNumber(ctx)
	})
}

// HeaderByNumber method wraps the HeaderByNumber method of the current
// endpoint.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return retry(ctx, c, "HeaderByNumber", func(cli *ethclient.Client) (*types.Header, error) {
		return cli.HeaderByNumber(ctx, number)
	})
}

// BalanceAt method wraps the BalanceAt method of the current endpoint.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return retry(ctx, c, "BalanceAt", func(cli *ethclient.Client) (*big.Int, error) {
		return cli.BalanceAt(ctx, account, blockNumber)
	})
}

// CodeAt method wraps the CodeAt method of the current endpoint.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return retry(ctx, c, "CodeAt", func(cli *ethclient.Client) ([]byte, error) {
		return cli.CodeAt(ctx, account, blockNumber)
	})
}

// PendingNonceAt method wraps the PendingNonceAt method of the current
// endpoint.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return retry(ctx, c, "PendingNonceAt", func(cli *ethclient.Client) (uint64, error) {
		return cli.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice method wraps the SuggestGasPrice method of the current
// endpoint.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "SuggestGasPrice", func(cli *ethclient.Client) (*big.Int, error) {
		return cli.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap method wraps the SuggestGasTipCap method of the current
// endpoint.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "SuggestGasTipCap", func(cli *ethclient.Client) (*big.Int, error) {
		return cli.SuggestGasTipCap(ctx)
	})
}

// EstimateGas method wraps the EstimateGas method of the current endpoint.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return retry(ctx, c, "EstimateGas", func(cli *ethclient.Client) (uint64, error) {
		return cli.EstimateGas(ctx, msg)
	})
}

// TransactionReceipt method wraps the TransactionReceipt method of the
// current endpoint.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return retry(ctx, c, "TransactionReceipt", func(cli *ethclient.Client) (*types.Receipt, error) {
		return cli.TransactionReceipt(ctx, txHash)
	})
}

// SendTransaction method sends the transaction through the current endpoint
// only once. If the endpoint cannot be reached it is disabled for the next
// calls, but the transaction is not replayed.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	endpoint, err := c.w3p.Endpoint(c.chainID)
	if err != nil {
		return fmt.Errorf("error getting endpoint for chainID %d: %w", c.chainID, err)
	}
	if err := endpoint.client.SendTransaction(ctx, tx); err != nil {
		if isEndpointError(ctx, err) {
			c.w3p.DisableEndpoint(c.chainID, endpoint.URI)
		}
		return err
	}
	return nil
}

// CallContext method performs a raw JSON-RPC call. Transaction sending
// methods reach a single endpoint, the rest are retried like any read.
func (c *Client) CallContext(ctx context.Context, result any, method string, args ...any) error {
	if sendMethods[method] {
		endpoint, err := c.w3p.Endpoint(c.chainID)
		if err != nil {
			return fmt.Errorf("error getting endpoint for chainID %d: %w", c.chainID, err)
		}
		if err := endpoint.client.Client().CallContext(ctx, result, method, args...); err != nil {
			if isEndpointError(ctx, err) {
				c.w3p.DisableEndpoint(c.chainID, endpoint.URI)
			}
			return err
		}
		return nil
	}
	_, err := retry(ctx, c, method, func(cli *ethclient.Client) (struct{}, error) {
		return struct{}{}, cli.Client().CallContext(ctx, result, method, args...)
	})
	return err
}

// retry calls fn with the client of the current endpoint of the chainID. If
// the endpoint cannot be reached, it is disabled and fn is called again with
// the next one, once per endpoint in the pool. Errors returned by a node
// that answered are not retried.
func retry[T any](ctx context.Context, c *Client, method string, fn func(*ethclient.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, n := 0, max(c.w3p.NumberOfEndpoints(c.chainID, false), 1); i < n; i++ {
		endpoint, err := c.w3p.Endpoint(c.chainID)
		if err != nil {
			return zero, fmt.Errorf("error getting endpoint for chainID %d: %w", c.chainID, err)
		}
		res, err := fn(endpoint.client)
		if err == nil {
			return res, nil
		}
		if !isEndpointError(ctx, err) {
			return zero, err
		}
		log.Warnw("web3 endpoint failed, trying next one",
			"chainID", c.chainID,
			"uri", endpoint.URI,
			"method", method,
			"error", err)
		c.w3p.DisableEndpoint(c.chainID, endpoint.URI)
		lastErr = err
	}
	return zero, fmt.Errorf("every endpoint failed for chainID %d: %w", c.chainID, lastErr)
}

// isEndpointError reports whether err means the endpoint could not serve
// the request, as opposed to a node answer (an RPC error or a not found
// result) or a cancelled context.
func isEndpointError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	var rpcErr gethrpc.Error
	return !errors.As(err, &rpcErr)
}
