package web3

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/verifier-deployer/util"
)

// CreationTx holds everything needed to build a contract creation
// transaction. GasTipCap and GasFeeCap are set on EIP-1559 networks,
// GasPrice otherwise.
type CreationTx struct {
	ChainID   *big.Int
	Nonce     uint64
	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
	Data      []byte
}

// Signer is an account able to authorise and pay for a contract creation.
type Signer interface {
	Address() common.Address
	// SendCreation broadcasts the creation transaction once and returns its
	// hash. It never retries.
	SendCreation(ctx context.Context, backend Backend, tx *CreationTx) (common.Hash, error)
}

// SignerSource yields the signer identities available in the configured
// environment, in preference order.
type SignerSource interface {
	Signers(ctx context.Context) ([]Signer, error)
}

// RPCCaller performs raw JSON-RPC calls. *rpc.Client and the endpoint pool
// client implement it.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// KeySigner signs locally with an ECDSA private key.
type KeySigner struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner returns a signer for the given private key.
func NewKeySigner(privKey *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		privKey: privKey,
		address: crypto.PubkeyToAddress(privKey.PublicKey),
	}
}

// Address returns the address of the signer.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SendCreation signs the creation transaction and sends it to the backend.
func (s *KeySigner) SendCreation(ctx context.Context, backend Backend, creation *CreationTx) (common.Hash, error) {
	var inner types.TxData
	if creation.GasFeeCap != nil {
		inner = &types.DynamicFeeTx{
			ChainID:   creation.ChainID,
			Nonce:     creation.Nonce,
			GasTipCap: creation.GasTipCap,
			GasFeeCap: creation.GasFeeCap,
			Gas:       creation.Gas,
			Data:      creation.Data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    creation.Nonce,
			GasPrice: creation.GasPrice,
			Gas:      creation.Gas,
			Data:     creation.Data,
		}
	}
	signed, err := types.SignNewTx(s.privKey, types.LatestSignerForChainID(creation.ChainID), inner)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign creation transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send creation transaction: %w", err)
	}
	return signed.Hash(), nil
}

// KeySource provides signers from locally held private keys.
type KeySource struct {
	keys []*ecdsa.PrivateKey
}

// NewKeySource parses the hex encoded private keys provided (with or without
// 0x prefix). Empty entries are ignored.
func NewKeySource(hexKeys ...string) (*KeySource, error) {
	ks := &KeySource{}
	for i, hexKey := range hexKeys {
		hexKey = util.TrimHex(strings.TrimSpace(hexKey))
		if hexKey == "" {
			continue
		}
		privKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key #%d: %w", i, err)
		}
		ks.keys = append(ks.keys, privKey)
	}
	return ks, nil
}

// AddKeystore decrypts a JSON keystore file (as written by geth or
// clef) and adds its key to the source.
func (ks *KeySource) AddKeystore(path, passphrase string) error {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	ks.keys = append(ks.keys, key.PrivateKey)
	return nil
}

// Len returns the number of keys in the source.
func (ks *KeySource) Len() int {
	return len(ks.keys)
}

// Signers returns one KeySigner per configured key. It never touches the
// network.
func (ks *KeySource) Signers(_ context.Context) ([]Signer, error) {
	signers := make([]Signer, 0, len(ks.keys))
	for _, k := range ks.keys {
		signers = append(signers, NewKeySigner(k))
	}
	return signers, nil
}

// NodeSigner is an account unlocked on the node itself, like the funded
// accounts of Hardhat or Anvil development networks. The node signs.
type NodeSigner struct {
	address common.Address
	caller  RPCCaller
}

// Address returns the address of the node account.
func (s *NodeSigner) Address() common.Address {
	return s.address
}

// sendTxArgs is the eth_sendTransaction argument object.
type sendTxArgs struct {
	From                 common.Address  `json:"from"`
	Gas                  hexutil.Uint64  `json:"gas"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
	Data                 hexutil.Bytes   `json:"data"`
	To                   *common.Address `json:"to"`
}

// SendCreation asks the node to sign and broadcast the creation transaction.
func (s *NodeSigner) SendCreation(ctx context.Context, _ Backend, creation *CreationTx) (common.Hash, error) {
	args := sendTxArgs{
		From:    s.address,
		Gas:     hexutil.Uint64(creation.Gas),
		Nonce:   hexutil.Uint64(creation.Nonce),
		Data:    creation.Data,
		ChainID: (*hexutil.Big)(creation.ChainID),
	}
	if creation.GasFeeCap != nil {
		args.MaxFeePerGas = (*hexutil.Big)(creation.GasFeeCap)
		args.MaxPriorityFeePerGas = (*hexutil.Big)(creation.GasTipCap)
	} else {
		args.GasPrice = (*hexutil.Big)(creation.GasPrice)
	}
	var hash common.Hash
	if err := s.caller.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send creation transaction: %w", err)
	}
	return hash, nil
}

// NodeSource provides the accounts unlocked on the node (eth_accounts).
type NodeSource struct {
	caller RPCCaller
}

// NewNodeSource returns a source backed by the node's own accounts.
func NewNodeSource(caller RPCCaller) *NodeSource {
	return &NodeSource{caller: caller}
}

// Signers lists the node accounts.
func (ns *NodeSource) Signers(ctx context.Context) ([]Signer, error) {
	var accounts []common.Address
	if err := ns.caller.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("failed to list node accounts: %w", err)
	}
	signers := make([]Signer, 0, len(accounts))
	for _, addr := range accounts {
		signers = append(signers, &NodeSigner{address: addr, caller: ns.caller})
	}
	return signers, nil
}
