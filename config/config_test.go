package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	cfg, err := Load([]string{"--env-file", ""})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Contract, qt.Equals, DefaultContract)
	c.Assert(cfg.RPCs, qt.DeepEquals, []string{DefaultRPC})
	c.Assert(cfg.PrivateKeys, qt.HasLen, 0)
	c.Assert(cfg.ArtifactsDir, qt.Equals, DefaultArtifactsDir)
	c.Assert(cfg.ConfirmationTimeout, qt.Equals, DefaultConfirmationTimeout)
	c.Assert(cfg.PollInterval, qt.Equals, DefaultPollInterval)
	c.Assert(cfg.Confirmations, qt.Equals, uint64(DefaultConfirmations))
	c.Assert(cfg.GasLimit, qt.Equals, uint64(0))
	c.Assert(cfg.GasFeeCap, qt.IsNil)
	c.Assert(cfg.GasTipCap, qt.IsNil)
	c.Assert(cfg.LogLevel, qt.Equals, DefaultLogLevel)
	c.Assert(cfg.History, qt.IsFalse)
}

func TestLoadPrecedence(t *testing.T) {
	c := qt.New(t)
	envFile := writeEnvFile(t, `
PRIVATE_KEY=0xdotenvkey
RPC_URL=http://dotenv:8545
DEPLOYER_TIMEOUT=45s
DEPLOYER_CONTRACT=FromDotenv
`)
	t.Setenv("DEPLOYER_RPC", "http://env-a:8545, http://env-b:8545")
	t.Setenv("DEPLOYER_CONTRACT", "FromEnv")

	cfg, err := Load([]string{"--env-file", envFile, "--contract", "FromFlag", "--confirmations", "3"})
	c.Assert(err, qt.IsNil)
	// flag wins over env and dotenv
	c.Assert(cfg.Contract, qt.Equals, "FromFlag")
	c.Assert(cfg.Confirmations, qt.Equals, uint64(3))
	// env wins over dotenv
	c.Assert(cfg.RPCs, qt.DeepEquals, []string{"http://env-a:8545", "http://env-b:8545"})
	// dotenv wins over defaults
	c.Assert(cfg.PrivateKeys, qt.DeepEquals, []string{"0xdotenvkey"})
	c.Assert(cfg.ConfirmationTimeout, qt.Equals, 45*time.Second)
}

func TestLoadHardhatStyleEnv(t *testing.T) {
	c := qt.New(t)
	t.Setenv("PRIVATE_KEY", "0xaa,0xbb")
	t.Setenv("RPC_URL", "https://sepolia.example")
	t.Setenv("DEPLOYER_GAS_LIMIT", "3000000")
	t.Setenv("DEPLOYER_NODE_ACCOUNTS", "true")

	cfg, err := Load([]string{"--env-file", ""})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.PrivateKeys, qt.DeepEquals, []string{"0xaa", "0xbb"})
	c.Assert(cfg.RPCs, qt.DeepEquals, []string{"https://sepolia.example"})
	c.Assert(cfg.GasLimit, qt.Equals, uint64(3000000))
	c.Assert(cfg.NodeAccounts, qt.IsTrue)

	// the prefixed variable is preferred
	t.Setenv("DEPLOYER_PRIVKEY", "0xcc")
	cfg, err = Load([]string{"--env-file", ""})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.PrivateKeys, qt.DeepEquals, []string{"0xcc"})
}

func TestLoadFeeCaps(t *testing.T) {
	c := qt.New(t)
	t.Setenv("DEPLOYER_GAS_TIP_CAP", "0x77359400")

	cfg, err := Load([]string{"--env-file", "", "--gas-fee-cap", "30000000000"})
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.GasFeeCap.Cmp(big.NewInt(30_000_000_000)), qt.Equals, 0)
	c.Assert(cfg.GasTipCap.Cmp(big.NewInt(2_000_000_000)), qt.Equals, 0)
}

func TestLoadEnvFile(t *testing.T) {
	c := qt.New(t)
	// a missing default env file is ignored, a requested one is not
	_, err := Load([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")})
	c.Assert(err, qt.ErrorMatches, "read env file .*")

	cwd, err := os.Getwd()
	c.Assert(err, qt.IsNil)
	c.Assert(os.Chdir(t.TempDir()), qt.IsNil)
	defer func() { _ = os.Chdir(cwd) }()
	_, err = Load(nil)
	c.Assert(err, qt.IsNil)
}

func TestLoadInvalid(t *testing.T) {
	c := qt.New(t)
	for _, args := range [][]string{
		{"--rpc", " , "},
		{"--contract", " "},
		{"--timeout", "0s"},
		{"--poll-interval", "-1s"},
		{"--confirmations", "0"},
		{"--artifact-url", "https://example.com/verifier.json"},
		{"--keystore", "key.json"},
		{"--log-level", "verbose"},
		{"--gas-fee-cap", "1gwei"},
		{"--gas-tip-cap", "-1"},
		{"--gas-fee-cap", "1000", "--gas-tip-cap", "2000"},
		{"--unknown-flag"},
	} {
		_, err := Load(append([]string{"--env-file", ""}, args...))
		c.Assert(err, qt.IsNotNil, qt.Commentf("args %v", args))
	}

	_, err := Load([]string{"--help"})
	c.Assert(err, qt.ErrorIs, ErrHelp)
}
