package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/verifier-deployer/web3"
)

const (
	// DefaultContract is the contract deployed when none is configured.
	DefaultContract = "Groth16VerifyBn254"
	// DefaultRPC is the endpoint of a local development node.
	DefaultRPC = "http://127.0.0.1:8545"
	// DefaultArtifactsDir is the build output directory of Hardhat projects.
	DefaultArtifactsDir = "artifacts"
	// DefaultEnvFile is the dotenv file read at startup, if it exists.
	DefaultEnvFile = ".env"
	// DefaultConfirmationTimeout, DefaultPollInterval and DefaultConfirmations
	// are the deployer defaults.
	DefaultConfirmationTimeout = web3.DefaultConfirmationTimeout
	DefaultPollInterval        = web3.DefaultPollInterval
	DefaultConfirmations       = web3.DefaultConfirmations
	// DefaultLogLevel and DefaultLogOutput configure the logger.
	DefaultLogLevel  = "info"
	DefaultLogOutput = "stderr"

	// EnvPrefix is the prefix of the environment variables read.
	EnvPrefix = "DEPLOYER"
)

// Config holds the deployer settings.
type Config struct {
	Contract            string
	RPCs                []string
	PrivateKeys         []string
	Keystore            string
	KeystorePassword    string
	NodeAccounts        bool
	ArtifactsDir        string
	ArtifactURL         string
	ArtifactHash        string
	DataDir             string
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	Confirmations       uint64
	GasLimit            uint64
	GasFeeCap           *big.Int
	GasTipCap           *big.Int
	LogLevel            string
	LogOutput           string
	LogErrorFile        string
	History             bool
}

// key describes a configuration entry: its flag and the environment
// variables it can be read from, in order of preference.
type key struct {
	name string
	env  []string
}

func envName(name string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

var keys = []key{
	{name: "contract"},
	{name: "rpc", env: []string{"RPC_URL"}},
	{name: "privkey", env: []string{"PRIVATE_KEY"}},
	{name: "keystore"},
	{name: "keystore-password"},
	{name: "node-accounts"},
	{name: "artifacts"},
	{name: "artifact-url"},
	{name: "artifact-hash"},
	{name: "datadir"},
	{name: "timeout"},
	{name: "poll-interval"},
	{name: "confirmations"},
	{name: "gas-limit"},
	{name: "gas-fee-cap"},
	{name: "gas-tip-cap"},
	{name: "log-level"},
	{name: "log-output"},
	{name: "log-errors"},
	{name: "history"},
}

// ErrHelp is returned by Load when the help flag is provided.
var ErrHelp = flag.ErrHelp

// Load builds the configuration from the command line arguments, the
// environment and the dotenv file, in that order of precedence, falling
// back to the defaults.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("deployer", flag.ContinueOnError)
	fs.String("contract", DefaultContract, "name of the contract to deploy (bare or fully qualified)")
	fs.String("rpc", DefaultRPC, "comma separated list of web3 rpc endpoints")
	fs.String("privkey", "", "comma separated list of hex private keys, the first one deploys")
	fs.String("keystore", "", "encrypted json keystore file with the deployer key")
	fs.String("keystore-password", "", "password of the keystore file")
	fs.Bool("node-accounts", false, "use the accounts unlocked on the node when no key is configured")
	fs.String("artifacts", DefaultArtifactsDir, "build artifacts directory (hardhat or foundry)")
	fs.String("artifact-url", "", "url of a published contract artifact, used instead of the artifacts directory")
	fs.String("artifact-hash", "", "sha256 hash of the published contract artifact")
	fs.String("datadir", "", "directory where the deployment history is stored (disabled if empty)")
	fs.Duration("timeout", DefaultConfirmationTimeout, "maximum time to wait for the confirmation")
	fs.Duration("poll-interval", DefaultPollInterval, "time between confirmation checks")
	fs.Uint64("confirmations", DefaultConfirmations, "number of blocks required to consider the deployment confirmed")
	fs.Uint64("gas-limit", 0, "fixed gas limit for the creation transaction (estimated if 0)")
	fs.String("gas-fee-cap", "", "max fee per gas in wei, or gas price on legacy chains (suggested by the node if empty)")
	fs.String("gas-tip-cap", "", "max priority fee per gas in wei (suggested by the node if empty)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log-output", DefaultLogOutput, "log output (stdout, stderr or filepath)")
	fs.String("log-errors", "", "file where warnings and errors are also written")
	fs.Bool("history", false, "print the recorded deployments of the contract and exit")
	envFile := fs.String("env-file", DefaultEnvFile, "dotenv file to load")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for _, k := range keys {
		f := fs.Lookup(k.name)
		v.SetDefault(k.name, f.DefValue)
		if err := v.BindPFlag(k.name, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", k.name, err)
		}
		if err := v.BindEnv(append([]string{k.name, envName(k.name)}, k.env...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k.name, err)
		}
	}
	if err := loadEnvFile(v, *envFile, fs.Changed("env-file")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Contract:            strings.TrimSpace(v.GetString("contract")),
		RPCs:                splitList(v.GetString("rpc")),
		PrivateKeys:         splitList(v.GetString("privkey")),
		Keystore:            v.GetString("keystore"),
		KeystorePassword:    v.GetString("keystore-password"),
		NodeAccounts:        v.GetBool("node-accounts"),
		ArtifactsDir:        v.GetString("artifacts"),
		ArtifactURL:         v.GetString("artifact-url"),
		ArtifactHash:        v.GetString("artifact-hash"),
		DataDir:             v.GetString("datadir"),
		ConfirmationTimeout: v.GetDuration("timeout"),
		PollInterval:        v.GetDuration("poll-interval"),
		Confirmations:       v.GetUint64("confirmations"),
		GasLimit:            v.GetUint64("gas-limit"),
		LogLevel:            strings.ToLower(v.GetString("log-level")),
		LogOutput:           v.GetString("log-output"),
		LogErrorFile:        v.GetString("log-errors"),
		History:             v.GetBool("history"),
	}
	var err error
	if cfg.GasFeeCap, err = parseWei("gas-fee-cap", v.GetString("gas-fee-cap")); err != nil {
		return nil, err
	}
	if cfg.GasTipCap, err = parseWei("gas-tip-cap", v.GetString("gas-tip-cap")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads the dotenv file and uses its values as defaults, so the
// environment and the flags take precedence. A missing file is only an error
// when it was requested explicitly.
func loadEnvFile(v *viper.Viper, path string, required bool) error {
	if path == "" {
		return nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, k := range keys {
		for _, name := range append([]string{envName(k.name)}, k.env...) {
			if val, ok := values[name]; ok {
				v.SetDefault(k.name, val)
				break
			}
		}
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Contract == "" {
		return fmt.Errorf("no contract name provided")
	}
	if len(c.RPCs) == 0 {
		return fmt.Errorf("at least one web3 rpc endpoint is required")
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive, got %s", c.ConfirmationTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Confirmations == 0 {
		return fmt.Errorf("at least one confirmation is required")
	}
	if c.ArtifactURL != "" && c.ArtifactHash == "" {
		return fmt.Errorf("artifact hash is required when an artifact url is provided")
	}
	if c.Keystore != "" && c.KeystorePassword == "" {
		return fmt.Errorf("keystore password is required when a keystore is provided")
	}
	if c.GasFeeCap != nil && c.GasTipCap != nil && c.GasFeeCap.Cmp(c.GasTipCap) < 0 {
		return fmt.Errorf("gas fee cap %s lower than tip cap %s", c.GasFeeCap, c.GasTipCap)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// parseWei parses a decimal or 0x prefixed amount of wei. An empty value
// returns nil.
func parseWei(name, s string) (*big.Int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	wei, ok := new(big.Int).SetString(s, 0)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return wei, nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var list []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
