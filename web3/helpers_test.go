package web3

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

const (
	// well known development key (hardhat account #0)
	testPrivKey    = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testArtifacts  = "../artifacts/testdata/hardhat"
	verifierName   = "Groth16VerifyBn254"
	simulatedChain = 1337
)

var testBalance, _ = new(big.Int).SetString("1000000000000000000000", 10)

// newTestChain starts a simulated chain with the test account funded.
func newTestChain(t *testing.T) *simulated.Backend {
	sim := simulated.NewBackend(types.GenesisAlloc{
		common.HexToAddress(testAddress): {Balance: testBalance},
	})
	t.Cleanup(func() { _ = sim.Close() })
	return sim
}

// autoCommit mines a block right after every accepted transaction.
type autoCommit struct {
	simulated.Client
	sim *simulated.Backend
}

func newAutoCommit(sim *simulated.Backend) *autoCommit {
	return &autoCommit{Client: sim.Client(), sim: sim}
}

func (a *autoCommit) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := a.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	a.sim.Commit()
	return nil
}

// countingBackend counts the calls made to the wrapped backend.
type countingBackend struct {
	Backend
	calls atomic.Int32
	sends atomic.Int32
}

func (c *countingBackend) ChainID(ctx context.Context) (*big.Int, error) {
	c.calls.Add(1)
	return c.Backend.ChainID(ctx)
}

func (c *countingBackend) BlockNumber(ctx context.Context) (uint64, error) {
	c.calls.Add(1)
	return c.Backend.BlockNumber(ctx)
}

func (c *countingBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.calls.Add(1)
	return c.Backend.HeaderByNumber(ctx, number)
}

func (c *countingBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.calls.Add(1)
	return c.Backend.BalanceAt(ctx, account, blockNumber)
}

func (c *countingBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.calls.Add(1)
	return c.Backend.CodeAt(ctx, account, blockNumber)
}

func (c *countingBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.calls.Add(1)
	return c.Backend.PendingNonceAt(ctx, account)
}

func (c *countingBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.calls.Add(1)
	return c.Backend.SuggestGasPrice(ctx)
}

func (c *countingBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.calls.Add(1)
	return c.Backend.SuggestGasTipCap(ctx)
}

func (c *countingBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	c.calls.Add(1)
	return c.Backend.EstimateGas(ctx, call)
}

func (c *countingBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.calls.Add(1)
	c.sends.Add(1)
	return c.Backend.SendTransaction(ctx, tx)
}

func (c *countingBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.calls.Add(1)
	return c.Backend.TransactionReceipt(ctx, txHash)
}

func mustKeySource(t *testing.T, keys ...string) *KeySource {
	t.Helper()
	ks, err := NewKeySource(keys...)
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

func randomKeyHex(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return common.Bytes2Hex(crypto.FromECDSA(k))
}
