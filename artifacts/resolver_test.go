package artifacts

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

var verifierCreationCode = []byte{0x60, 0x01, 0x60, 0x0c, 0x60, 0x00, 0x39, 0x60, 0x01, 0x60, 0x00, 0xf3, 0x00}

func TestDirResolverHardhat(t *testing.T) {
	c := qt.New(t)
	r := NewDirResolver("testdata/hardhat")
	ctx := context.Background()

	bp, err := r.Resolve(ctx, "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(bp.Name, qt.Equals, "Groth16VerifyBn254")
	c.Assert(bp.SourceName, qt.Equals, "contracts/Groth16Verifier.sol")
	c.Assert(bp.QualifiedName(), qt.Equals, "contracts/Groth16Verifier.sol:Groth16VerifyBn254")
	_, ok := bp.ABI.Methods["verifyProof"]
	c.Assert(ok, qt.IsTrue)

	code, err := bp.CreationCode()
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.DeepEquals, verifierCreationCode)

	// fully qualified
	bp, err = r.Resolve(ctx, "contracts/Groth16Verifier.sol:Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(bp.Name, qt.Equals, "Groth16VerifyBn254")
}

func TestDirResolverNotFound(t *testing.T) {
	c := qt.New(t)
	r := NewDirResolver("testdata/hardhat")
	ctx := context.Background()

	_, err := r.Resolve(ctx, "Groth16VerifyBn25")
	c.Assert(err, qt.ErrorIs, ErrBlueprintNotFound)

	_, err = r.Resolve(ctx, "contracts/Other.sol:Groth16VerifyBn254")
	c.Assert(err, qt.ErrorIs, ErrBlueprintNotFound)

	_, err = r.Resolve(ctx, "")
	c.Assert(err, qt.ErrorIs, ErrBlueprintNotFound)

	_, err = NewDirResolver("testdata/missing").Resolve(ctx, "Groth16VerifyBn254")
	c.Assert(err, qt.ErrorIs, ErrBlueprintNotFound)
}

func TestDirResolverAmbiguous(t *testing.T) {
	c := qt.New(t)
	r := NewDirResolver("testdata/hardhat")
	ctx := context.Background()

	_, err := r.Resolve(ctx, "Dup")
	c.Assert(err, qt.ErrorIs, ErrAmbiguousBlueprint)

	bp, err := r.Resolve(ctx, "contracts/b/Dup.sol:Dup")
	c.Assert(err, qt.IsNil)
	c.Assert(bp.SourceName, qt.Equals, "contracts/b/Dup.sol")
}

func TestDirResolverNotDeployable(t *testing.T) {
	c := qt.New(t)
	r := NewDirResolver("testdata/hardhat")
	ctx := context.Background()

	_, err := r.Resolve(ctx, "IVerifier")
	c.Assert(err, qt.ErrorIs, ErrNotDeployable)

	_, err = r.Resolve(ctx, "Linked")
	c.Assert(err, qt.ErrorIs, ErrNotDeployable)

	bp, err := r.Resolve(ctx, "WithArgs")
	c.Assert(err, qt.IsNil)
	_, err = bp.CreationCode()
	c.Assert(err, qt.ErrorIs, ErrNotDeployable)
}

func TestDirResolverFoundry(t *testing.T) {
	c := qt.New(t)
	r := NewDirResolver("testdata/foundry")

	bp, err := r.Resolve(context.Background(), "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(bp.SourceName, qt.Equals, "Verifier.sol")
	c.Assert([]byte(bp.Bytecode), qt.DeepEquals, verifierCreationCode)

	_, err = r.Resolve(context.Background(), "src/Verifier.sol:Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
}

func TestDirResolverCanceled(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirResolver("testdata/hardhat").Resolve(ctx, "Groth16VerifyBn254")
	c.Assert(err, qt.ErrorIs, context.Canceled)
}

func TestContractName(t *testing.T) {
	c := qt.New(t)
	c.Assert(ContractName("Groth16VerifyBn254"), qt.Equals, "Groth16VerifyBn254")
	c.Assert(ContractName(" contracts/Groth16Verifier.sol:Groth16VerifyBn254 "), qt.Equals, "Groth16VerifyBn254")
	c.Assert(ContractName("Verifier.sol:"), qt.Equals, "")
}
