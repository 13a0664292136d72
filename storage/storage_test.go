package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/verifier-deployer/types"
	"go.vocdoni.io/dvote/db/metadb"
)

func testDeployment(block uint64, txHash string) *types.Deployment {
	return &types.Deployment{
		ChainID:     1337,
		Contract:    "Groth16VerifyBn254",
		Address:     common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		TxHash:      common.HexToHash(txHash),
		BlockNumber: block,
		GasUsed:     53012,
		Deployer:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	}
}

func TestDeployments(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	_, err := stg.LatestDeployment(1337, "Groth16VerifyBn254")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	second := testDeployment(7, "0x02")
	first := testDeployment(3, "0x01")
	c.Assert(stg.SetDeployment(second), qt.IsNil)
	c.Assert(stg.SetDeployment(first), qt.IsNil)
	c.Assert(first.ID, qt.Not(qt.Equals), "")
	c.Assert(first.ID, qt.Not(qt.Equals), second.ID)
	c.Assert(first.DeployedAt.IsZero(), qt.IsFalse)

	// other contract and other chain
	other := testDeployment(5, "0x03")
	other.Contract = "Groth16VerifyBn254Extra"
	c.Assert(stg.SetDeployment(other), qt.IsNil)
	otherChain := testDeployment(9, "0x04")
	otherChain.ChainID = 31337
	c.Assert(stg.SetDeployment(otherChain), qt.IsNil)

	list, err := stg.Deployments(1337, "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
	c.Assert(list[0].TxHash, qt.Equals, first.TxHash)
	c.Assert(list[1].TxHash, qt.Equals, second.TxHash)
	c.Assert(list[0].ID, qt.Equals, first.ID)
	c.Assert(list[0].Address, qt.Equals, first.Address)
	c.Assert(list[0].Deployer, qt.Equals, first.Deployer)
	c.Assert(list[0].GasUsed, qt.Equals, first.GasUsed)
	c.Assert(list[0].DeployedAt.Equal(first.DeployedAt), qt.IsTrue)

	latest, err := stg.LatestDeployment(1337, "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(latest.BlockNumber, qt.Equals, uint64(7))

	got, err := stg.Deployment(1337, "Groth16VerifyBn254", first.TxHash)
	c.Assert(err, qt.IsNil)
	c.Assert(got.BlockNumber, qt.Equals, uint64(3))
	_, err = stg.Deployment(1337, "Groth16VerifyBn254", common.HexToHash("0xff"))
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestDeploymentsAreNotDeduplicated(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := testDeployment(3, "0x01")
	a.DeployedAt = at
	b := testDeployment(3, "0x02")
	b.DeployedAt = at.Add(time.Second)
	b.Address = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	c.Assert(stg.SetDeployment(a), qt.IsNil)
	c.Assert(stg.SetDeployment(b), qt.IsNil)

	list, err := stg.Deployments(1337, "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
	c.Assert(list[1].Address, qt.Equals, b.Address)
	c.Assert(list[0].DeployedAt.Equal(at), qt.IsTrue)
}

func TestSetDeploymentInvalid(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))
	c.Assert(stg.SetDeployment(nil), qt.IsNotNil)
	c.Assert(stg.SetDeployment(&types.Deployment{ChainID: 1}), qt.IsNotNil)
}

func TestOpen(t *testing.T) {
	c := qt.New(t)
	dir := filepath.Join(t.TempDir(), "db")
	stg, err := Open(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(stg.SetDeployment(testDeployment(1, "0x01")), qt.IsNil)
	stg.Close()

	stg, err = Open(dir)
	c.Assert(err, qt.IsNil)
	defer stg.Close()
	latest, err := stg.LatestDeployment(1337, "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(latest.BlockNumber, qt.Equals, uint64(1))
}
