package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment is the record of a confirmed contract creation. It is what the
// deployer prints, stores and hands to downstream tooling.
type Deployment struct {
	ID          string         `json:"id"          cbor:"0,keyasint,omitempty"`
	ChainID     uint64         `json:"chainId"     cbor:"1,keyasint,omitempty"`
	Contract    string         `json:"contract"    cbor:"2,keyasint,omitempty"`
	Address     common.Address `json:"address"     cbor:"3,keyasint,omitempty"`
	TxHash      common.Hash    `json:"txHash"      cbor:"4,keyasint,omitempty"`
	BlockNumber uint64         `json:"blockNumber" cbor:"5,keyasint,omitempty"`
	Deployer    common.Address `json:"deployer"    cbor:"6,keyasint,omitempty"`
	GasUsed     uint64         `json:"gasUsed"     cbor:"7,keyasint,omitempty"`
	DeployedAt  time.Time      `json:"deployedAt"  cbor:"8,keyasint,omitempty"`
}
