package web3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/verifier-deployer/log"
)

// AwaitConfirmation waits until the creation transaction is included and
// buried under the configured number of confirmations. It returns the
// confirmed contract handle. The wait is bounded by the confirmation
// timeout.
func (d *Deployer) AwaitConfirmation(ctx context.Context, pending *PendingDeployment) (*DeployedContract, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.cfg.ConfirmationTimeout, ErrConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		handle, done, err := d.checkReceipt(ctx, pending)
		if err != nil {
			var derr *Error
			if errors.As(err, &derr) {
				return nil, err
			}
			if ctx.Err() == nil {
				log.Warnw("failed to check creation receipt, retrying",
					"txHash", pending.TxHash.Hex(), "error", err)
			}
		}
		if done {
			d.advance(StageConfirmed)
			log.Infow("contract creation confirmed",
				"contract", handle.Contract,
				"address", handle.address.Hex(),
				"block", handle.BlockNumber,
				"gasUsed", handle.GasUsed,
				"elapsed", time.Since(pending.Submitted).String())
			return handle, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), ErrConfirmationTimeout) {
				return nil, d.fail(KindConfirmationTimeout,
					fmt.Errorf("transaction %s not confirmed after %s", pending.TxHash.Hex(), d.cfg.ConfirmationTimeout))
			}
			return nil, d.fail(KindUnclassified, ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkReceipt looks up the creation receipt. It returns done once the
// contract is confirmed, and an *Error for final failures.
func (d *Deployer) checkReceipt(ctx context.Context, pending *PendingDeployment) (*DeployedContract, bool, error) {
	receipt, err := d.backend.TransactionReceipt(ctx, pending.TxHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, false, d.fail(KindTransactionReverted,
			fmt.Errorf("transaction %s reverted in block %s (gas used %d)",
				pending.TxHash.Hex(), receipt.BlockNumber, receipt.GasUsed))
	}
	if d.cfg.Confirmations > 1 {
		head, err := d.backend.BlockNumber(ctx)
		if err != nil {
			return nil, false, err
		}
		if head+1 < receipt.BlockNumber.Uint64()+d.cfg.Confirmations {
			log.Debugw("waiting for confirmations",
				"txHash", pending.TxHash.Hex(),
				"block", receipt.BlockNumber.Uint64(),
				"head", head)
			return nil, false, nil
		}
	}

	address := receipt.ContractAddress
	if address == (common.Address{}) {
		address = crypto.CreateAddress(pending.From, pending.Nonce)
	}
	code, err := d.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, false, err
	}
	if len(code) == 0 {
		return nil, false, d.fail(KindUnclassified,
			fmt.Errorf("no code found at created address %s", address.Hex()))
	}

	handle := pending.Handle()
	handle.BlockNumber = receipt.BlockNumber.Uint64()
	handle.GasUsed = receipt.GasUsed
	handle.address = address
	handle.confirmed = true
	return handle, true, nil
}
