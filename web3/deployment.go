package web3

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/verifier-deployer/artifacts"
	"github.com/vocdoni/verifier-deployer/types"
)

// Stage is the progress of a deployment run. A run only moves forward, and
// any failure moves it to StageFailed.
type Stage int

const (
	StageUnstarted Stage = iota
	StageSignerAcquired
	StageBlueprintResolved
	StageSubmitted
	StageConfirmed
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageUnstarted:
		return "Unstarted"
	case StageSignerAcquired:
		return "SignerAcquired"
	case StageBlueprintResolved:
		return "BlueprintResolved"
	case StageSubmitted:
		return "Submitted"
	case StageConfirmed:
		return "Confirmed"
	case StageFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// PendingDeployment is a creation transaction accepted by the network but
// not confirmed yet. It carries no contract address: the address only
// exists once the creation is included and succeeds.
type PendingDeployment struct {
	TxHash    common.Hash
	From      common.Address
	Nonce     uint64
	ChainID   *big.Int
	Blueprint *artifacts.Blueprint
	Submitted time.Time
}

// Handle returns the pending handle of the deployment.
func (p *PendingDeployment) Handle() *DeployedContract {
	return &DeployedContract{
		Contract: p.Blueprint.Name,
		TxHash:   p.TxHash,
		From:     p.From,
		chainID:  p.ChainID,
	}
}

// DeployedContract is the handle to a deployed contract instance. While
// pending, its address cannot be read.
type DeployedContract struct {
	Contract    string
	TxHash      common.Hash
	From        common.Address
	BlockNumber uint64
	GasUsed     uint64

	chainID   *big.Int
	address   common.Address
	confirmed bool
}

// Confirmed reports whether the creation has been confirmed on chain.
func (d *DeployedContract) Confirmed() bool {
	return d.confirmed
}

// Address returns the on-chain address of the contract, or ErrNotConfirmed
// if the creation is still pending.
func (d *DeployedContract) Address() (common.Address, error) {
	if !d.confirmed {
		return common.Address{}, ErrNotConfirmed
	}
	return d.address, nil
}

// Record returns the deployment record to be stored in the history. It
// fails for pending handles.
func (d *DeployedContract) Record() (*types.Deployment, error) {
	addr, err := d.Address()
	if err != nil {
		return nil, err
	}
	var chainID uint64
	if d.chainID != nil {
		chainID = d.chainID.Uint64()
	}
	return &types.Deployment{
		ChainID:     chainID,
		Contract:    d.Contract,
		Address:     addr,
		TxHash:      d.TxHash,
		BlockNumber: d.BlockNumber,
		GasUsed:     d.GasUsed,
		Deployer:    d.From,
		DeployedAt:  time.Now(),
	}, nil
}
