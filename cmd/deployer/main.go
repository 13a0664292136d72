package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vocdoni/verifier-deployer/artifacts"
	"github.com/vocdoni/verifier-deployer/config"
	"github.com/vocdoni/verifier-deployer/log"
	"github.com/vocdoni/verifier-deployer/storage"
	"github.com/vocdoni/verifier-deployer/types"
	"github.com/vocdoni/verifier-deployer/web3"
	"github.com/vocdoni/verifier-deployer/web3/rpc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	os.Exit(exitCode(err))
}

// exitCode maps the result of run to the process exit status: 0 on success,
// 1 on any failure. Failures are logged here, once.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, config.ErrHelp):
		return 0
	default:
		log.Errorw(err, fmt.Sprintf("deployment failed: %s", web3.KindOf(err)))
		return 1
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	var errorOutput io.Writer
	if cfg.LogErrorFile != "" {
		f, err := os.OpenFile(cfg.LogErrorFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open error log file: %w", err)
		}
		defer f.Close()
		errorOutput = f
	}
	if err := log.Setup(cfg.LogLevel, cfg.LogOutput, errorOutput); err != nil {
		return fmt.Errorf("cannot initialize logger: %w", err)
	}

	// Local keys are checked before any endpoint is dialed. Node accounts
	// can only be listed once connected.
	var keys *web3.KeySource
	if !cfg.History && !useNodeAccounts(cfg) {
		if keys, err = keySource(cfg); err != nil {
			return err
		}
	}

	pool, chainID, err := newPool(cfg.RPCs)
	if err != nil {
		return err
	}
	defer pool.Close()
	client, err := pool.Client(chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", web3.ErrSubmission, err)
	}
	log.Infow("connected to network", "chainID", chainID, "endpoints", pool.NumberOfEndpoints(chainID, false))

	var stg *storage.Storage
	if cfg.DataDir != "" {
		if stg, err = storage.Open(cfg.DataDir); err != nil {
			if cfg.History {
				return err
			}
			log.Warnw("deployment history disabled", "error", err)
			stg = nil
		} else {
			defer stg.Close()
		}
	}
	if cfg.History {
		if stg == nil {
			return fmt.Errorf("the deployment history requires a data directory")
		}
		return printHistory(out, stg, chainID, cfg.Contract)
	}
	var signers web3.SignerSource = web3.NewNodeSource(client)
	if keys != nil {
		signers = keys
	}
	return deploy(ctx, cfg, client, signers, stg, out)
}

// newPool adds every endpoint to a web3 pool. The chain of the first
// reachable endpoint is used, endpoints of other chains are ignored.
func newPool(uris []string) (*rpc.Web3Pool, uint64, error) {
	pool := rpc.NewWeb3Pool()
	var (
		chainID uint64
		lastErr error
	)
	for _, uri := range uris {
		id, err := pool.AddEndpoint(uri)
		if err != nil {
			log.Warnw("failed to add web3 endpoint", "rpc", uri, "error", err)
			lastErr = err
			continue
		}
		if chainID == 0 {
			chainID = id
		} else if id != chainID {
			log.Warnw("ignoring web3 endpoint of another chain", "rpc", uri, "chainID", id, "expected", chainID)
			pool.DelEndpoint(uri)
		}
	}
	if chainID == 0 {
		pool.Close()
		return nil, 0, fmt.Errorf("%w: no usable web3 endpoint: %v", web3.ErrSubmission, lastErr)
	}
	return pool, chainID, nil
}

// deploy runs the deployment of the configured contract once.
func deploy(ctx context.Context, cfg *config.Config, client web3.Backend, signers web3.SignerSource,
	stg *storage.Storage, out io.Writer,
) error {
	resolver, err := blueprintResolver(cfg)
	if err != nil {
		return err
	}
	deployer := web3.New(web3.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		PollInterval:        cfg.PollInterval,
		Confirmations:       cfg.Confirmations,
		GasLimit:            cfg.GasLimit,
		GasFeeCap:           cfg.GasFeeCap,
		GasTipCap:           cfg.GasTipCap,
	}, client, signers, resolver, out)
	if stg != nil {
		deployer.SetRecorder(stg)
	}
	_, err = deployer.Run(ctx, cfg.Contract)
	return err
}

// useNodeAccounts reports whether the accounts unlocked on the node sign,
// which happens only when enabled and no key is configured.
func useNodeAccounts(cfg *config.Config) bool {
	return len(cfg.PrivateKeys) == 0 && cfg.Keystore == "" && cfg.NodeAccounts
}

// keySource loads the configured private keys and keystore. It fails when
// no key is available.
func keySource(cfg *config.Config) (*web3.KeySource, error) {
	keys, err := web3.NewKeySource(cfg.PrivateKeys...)
	if err != nil {
		return nil, &web3.Error{Kind: web3.KindNoSignerAvailable, Stage: web3.StageUnstarted, Err: err}
	}
	if cfg.Keystore != "" {
		if err := keys.AddKeystore(cfg.Keystore, cfg.KeystorePassword); err != nil {
			return nil, &web3.Error{Kind: web3.KindNoSignerAvailable, Stage: web3.StageUnstarted, Err: err}
		}
	}
	if keys.Len() == 0 {
		return nil, &web3.Error{
			Kind:  web3.KindNoSignerAvailable,
			Stage: web3.StageUnstarted,
			Err:   errors.New("no private key or keystore configured"),
		}
	}
	return keys, nil
}

func blueprintResolver(cfg *config.Config) (artifacts.Resolver, error) {
	if cfg.ArtifactURL == "" {
		return artifacts.NewDirResolver(cfg.ArtifactsDir), nil
	}
	var hash types.HexBytes
	if err := hash.UnmarshalText([]byte(cfg.ArtifactHash)); err != nil {
		return nil, fmt.Errorf("invalid artifact hash: %w", err)
	}
	return artifacts.NewRemoteResolver(cfg.ArtifactURL, hash), nil
}

// printHistory lists the recorded deployments of the contract. Records are
// stored under the bare contract name, so qualified names are reduced first.
func printHistory(out io.Writer, stg *storage.Storage, chainID uint64, contract string) error {
	contract = artifacts.ContractName(contract)
	list, err := stg.Deployments(chainID, contract)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(out, "No deployments of %s recorded on chain %d\n", contract, chainID)
		return nil
	}
	fmt.Fprintf(out, "Deployments of %s on chain %d:\n", contract, chainID)
	for _, d := range list {
		fmt.Fprintf(out, "  block %-10d %s  tx %s  by %s  at %s\n",
			d.BlockNumber, d.Address.Hex(), d.TxHash.Hex(), d.Deployer.Hex(), d.DeployedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return nil
}
