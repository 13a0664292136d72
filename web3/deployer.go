package web3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/vocdoni/verifier-deployer/artifacts"
	"github.com/vocdoni/verifier-deployer/log"
	dtypes "github.com/vocdoni/verifier-deployer/types"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConfirmationTimeout is the maximum time to wait for the creation
	// transaction to be confirmed.
	DefaultConfirmationTimeout = 2 * time.Minute
	// DefaultPollInterval is the time between receipt lookups.
	DefaultPollInterval = 2 * time.Second
	// DefaultConfirmations is the number of blocks (including the one holding
	// the transaction) required to consider a creation confirmed.
	DefaultConfirmations = 1
	// NextStepScript is the companion script the operator runs after a
	// successful deployment.
	NextStepScript = "verify_proof.js"
)

// Config holds the deployer settings. The zero value of every field falls
// back to its default.
type Config struct {
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	Confirmations       uint64
	// GasLimit skips gas estimation when set.
	GasLimit uint64
	// GasFeeCap and GasTipCap override the fee suggested by the node.
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// DefaultConfig returns the default deployer configuration.
func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: DefaultConfirmationTimeout,
		PollInterval:        DefaultPollInterval,
		Confirmations:       DefaultConfirmations,
	}
}

func (c *Config) setDefaults() {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
}

// Recorder stores confirmed deployments.
type Recorder interface {
	SetDeployment(d *dtypes.Deployment) error
}

// Deployer drives a single contract deployment: it acquires a signer,
// resolves the blueprint, submits the creation transaction and waits for
// its confirmation.
type Deployer struct {
	cfg      Config
	backend  Backend
	signers  SignerSource
	resolver artifacts.Resolver
	out      io.Writer
	recorder Recorder

	mu    sync.Mutex
	stage Stage
	ran   bool
}

// New creates a deployer. Progress lines are written to out (io.Discard if
// nil).
func New(cfg Config, backend Backend, signers SignerSource, resolver artifacts.Resolver, out io.Writer) *Deployer {
	cfg.setDefaults()
	if out == nil {
		out = io.Discard
	}
	return &Deployer{
		cfg:      cfg,
		backend:  backend,
		signers:  signers,
		resolver: resolver,
		out:      out,
	}
}

// SetRecorder sets the store where confirmed deployments are recorded.
func (d *Deployer) SetRecorder(r Recorder) {
	d.recorder = r
}

// Stage returns the current stage of the deployer.
func (d *Deployer) Stage() Stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stage
}

func (d *Deployer) advance(s Stage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stage != StageFailed && s > d.stage {
		d.stage = s
	}
}

// fail moves the deployer to StageFailed and returns the classified error.
func (d *Deployer) fail(kind Kind, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.stage
	d.stage = StageFailed
	return &Error{Kind: kind, Stage: last, Err: err}
}

// AcquireSigner returns the first signer available in the signer source.
func (d *Deployer) AcquireSigner(ctx context.Context) (Signer, error) {
	signers, err := d.signers.Signers(ctx)
	if err != nil {
		return nil, d.fail(KindNoSignerAvailable, err)
	}
	if len(signers) == 0 {
		return nil, d.fail(KindNoSignerAvailable, errors.New("signer source returned no identities"))
	}
	d.advance(StageSignerAcquired)
	log.Debugw("signer acquired", "address", signers[0].Address().Hex(), "available", len(signers))
	return signers[0], nil
}

// ResolveBlueprint looks up the named contract blueprint and checks that it
// can be deployed without constructor arguments.
func (d *Deployer) ResolveBlueprint(ctx context.Context, name string) (*artifacts.Blueprint, error) {
	bp, err := d.resolver.Resolve(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, d.fail(KindUnclassified, err)
		}
		return nil, d.fail(KindBlueprintNotFound, err)
	}
	if _, err := bp.CreationCode(); err != nil {
		return nil, d.fail(KindBlueprintNotFound, err)
	}
	d.advance(StageBlueprintResolved)
	log.Debugw("blueprint resolved", "contract", bp.QualifiedName(), "bytecodeSize", len(bp.Bytecode))
	return bp, nil
}

// SubmitCreation builds the creation transaction for the blueprint, signed
// by signer, and broadcasts it once. Every failure is a submission error.
func (d *Deployer) SubmitCreation(ctx context.Context, bp *artifacts.Blueprint, signer Signer) (*PendingDeployment, error) {
	pending, err := d.submit(ctx, bp, signer)
	if err != nil {
		return nil, d.fail(KindSubmission, err)
	}
	d.advance(StageSubmitted)
	log.Infow("creation transaction submitted",
		"contract", bp.Name,
		"txHash", pending.TxHash.Hex(),
		"from", pending.From.Hex(),
		"nonce", pending.Nonce)
	return pending, nil
}

func (d *Deployer) submit(ctx context.Context, bp *artifacts.Blueprint, signer Signer) (*PendingDeployment, error) {
	code, err := bp.CreationCode()
	if err != nil {
		return nil, err
	}
	from := signer.Address()

	var (
		chainID *big.Int
		nonce   uint64
		head    *types.Header
		balance *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if chainID, err = d.backend.ChainID(gctx); err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if nonce, err = d.backend.PendingNonceAt(gctx, from); err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if head, err = d.backend.HeaderByNumber(gctx, nil); err != nil {
			return fmt.Errorf("failed to get latest header: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if balance, err = d.backend.BalanceAt(gctx, from, nil); err != nil {
			return fmt.Errorf("failed to get balance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tx := &CreationTx{
		ChainID: chainID,
		Nonce:   nonce,
		Data:    code,
	}
	msg := ethereum.CallMsg{From: from, Data: code}
	var price *big.Int
	if head.BaseFee != nil {
		if tx.GasTipCap = d.cfg.GasTipCap; tx.GasTipCap == nil {
			if tx.GasTipCap, err = d.backend.SuggestGasTipCap(ctx); err != nil {
				return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
			}
		}
		if tx.GasFeeCap = d.cfg.GasFeeCap; tx.GasFeeCap == nil {
			tx.GasFeeCap = new(big.Int).Add(tx.GasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		}
		if tx.GasFeeCap.Cmp(tx.GasTipCap) < 0 {
			return nil, fmt.Errorf("gas fee cap %s lower than tip cap %s", tx.GasFeeCap, tx.GasTipCap)
		}
		msg.GasFeeCap, msg.GasTipCap = tx.GasFeeCap, tx.GasTipCap
		price = tx.GasFeeCap
	} else {
		if tx.GasPrice = d.cfg.GasFeeCap; tx.GasPrice == nil {
			if tx.GasPrice, err = d.backend.SuggestGasPrice(ctx); err != nil {
				return nil, fmt.Errorf("failed to get gas price: %w", err)
			}
		}
		msg.GasPrice = tx.GasPrice
		price = tx.GasPrice
	}

	if tx.Gas = d.cfg.GasLimit; tx.Gas == 0 {
		if tx.Gas, err = d.backend.EstimateGas(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas), price)
	if balance.Cmp(cost) < 0 {
		return nil, fmt.Errorf("insufficient funds for %s: balance %s, required %s", from.Hex(), balance, cost)
	}
	log.Debugw("sending creation transaction",
		"chainID", chainID.String(),
		"nonce", nonce,
		"gas", tx.Gas,
		"maxCost", cost.String())

	hash, err := signer.SendCreation(ctx, d.backend, tx)
	if err != nil {
		return nil, err
	}
	return &PendingDeployment{
		TxHash:    hash,
		From:      from,
		Nonce:     nonce,
		ChainID:   chainID,
		Blueprint: bp,
		Submitted: time.Now(),
	}, nil
}

// Report prints the success line and the next step hint for a confirmed
// deployment.
func (d *Deployer) Report(handle *DeployedContract) error {
	addr, err := handle.Address()
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "✅ %s deployed to: %s\n", handle.Contract, addr.Hex())
	fmt.Fprintf(d.out, "\nNext step: use this address in the '%s' script to run the verification.\n", NextStepScript)
	return nil
}

// Run executes the whole deployment of the named contract. A deployer can
// only run once.
func (d *Deployer) Run(ctx context.Context, name string) (*DeployedContract, error) {
	d.mu.Lock()
	if d.ran {
		d.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	d.ran = true
	d.mu.Unlock()

	fmt.Fprintf(d.out, "--- Deploying %s contract ---\n", name)
	signer, err := d.AcquireSigner(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(d.out, "Deployer account: %s\n", signer.Address().Hex())

	bp, err := d.ResolveBlueprint(ctx, name)
	if err != nil {
		return nil, err
	}
	pending, err := d.SubmitCreation(ctx, bp, signer)
	if err != nil {
		return nil, err
	}
	handle, err := d.AwaitConfirmation(ctx, pending)
	if err != nil {
		return nil, err
	}
	if err := d.Report(handle); err != nil {
		return nil, d.fail(KindUnclassified, err)
	}
	d.record(handle)
	return handle, nil
}

// record stores the deployment in the history. The contract already exists
// on chain, so failures are only logged.
func (d *Deployer) record(handle *DeployedContract) {
	if d.recorder == nil {
		return
	}
	rec, err := handle.Record()
	if err != nil {
		log.Warnw("cannot build deployment record", "error", err)
		return
	}
	if err := d.recorder.SetDeployment(rec); err != nil {
		log.Warnw("failed to record deployment", "contract", rec.Contract, "address", rec.Address.Hex(), "error", err)
		return
	}
	log.Debugw("deployment recorded", "id", rec.ID, "contract", rec.Contract)
}
