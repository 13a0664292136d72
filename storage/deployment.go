package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vocdoni/verifier-deployer/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// deploymentKey returns the key of a deployment inside the deployments
// prefix.
func deploymentKey(d *types.Deployment) []byte {
	return []byte(fmt.Sprintf("%d/%s/%s", d.ChainID, d.Contract, d.TxHash.Hex()))
}

func contractPrefix(chainID uint64, contract string) []byte {
	return []byte(fmt.Sprintf("%d/%s/", chainID, contract))
}

// SetDeployment stores a confirmed deployment. If the record has no ID a
// new one is assigned, and the deployment time defaults to now.
func (s *Storage) SetDeployment(d *types.Deployment) error {
	if d == nil {
		return fmt.Errorf("nil deployment")
	}
	if d.Contract == "" {
		return fmt.Errorf("deployment without contract name")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now()
	}
	data, err := encodeArtifact(d)
	if err != nil {
		return fmt.Errorf("encode deployment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), deploymentPrefix)
	if err := wTx.Set(deploymentKey(d), data); err != nil {
		wTx.Discard()
		return fmt.Errorf("set deployment: %w", err)
	}
	return wTx.Commit()
}

// Deployment returns the deployment of the contract made by the transaction
// provided. It returns ErrNotFound if there is none.
func (s *Storage) Deployment(chainID uint64, contract string, txHash common.Hash) (*types.Deployment, error) {
	key := deploymentKey(&types.Deployment{ChainID: chainID, Contract: contract, TxHash: txHash})
	rTx := prefixeddb.NewPrefixedReader(s.db, deploymentPrefix)
	data, err := rTx.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	d := &types.Deployment{}
	if err := decodeArtifact(data, d); err != nil {
		return nil, fmt.Errorf("decode deployment: %w", err)
	}
	return d, nil
}

// Deployments returns every recorded deployment of the contract in the
// chain provided, oldest first.
func (s *Storage) Deployments(chainID uint64, contract string) ([]*types.Deployment, error) {
	var (
		list      []*types.Deployment
		decodeErr error
	)
	rTx := prefixeddb.NewPrefixedReader(s.db, deploymentPrefix)
	if err := rTx.Iterate(contractPrefix(chainID, contract), func(_, v []byte) bool {
		d := &types.Deployment{}
		if decodeErr = decodeArtifact(v, d); decodeErr != nil {
			return false
		}
		list = append(list, d)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode deployment: %w", decodeErr)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].BlockNumber != list[j].BlockNumber {
			return list[i].BlockNumber < list[j].BlockNumber
		}
		return list[i].DeployedAt.Before(list[j].DeployedAt)
	})
	return list, nil
}

// LatestDeployment returns the most recent deployment of the contract in
// the chain provided. It returns ErrNotFound if the contract was never
// deployed there.
func (s *Storage) LatestDeployment(chainID uint64, contract string) (*types.Deployment, error) {
	list, err := s.Deployments(chainID, contract)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1], nil
}
