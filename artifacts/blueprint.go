// Package artifacts resolves compiled contract blueprints (ABI plus creation
// bytecode) by name from the output of an external build tool. Hardhat
// artifacts and Foundry out files are supported, either from a local build
// directory or from a single hash-pinned artifact published at a URL.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/vocdoni/verifier-deployer/types"
)

var (
	// ErrBlueprintNotFound is returned when no artifact matches the
	// requested contract name.
	ErrBlueprintNotFound = errors.New("blueprint not found")
	// ErrAmbiguousBlueprint is returned when a bare contract name matches
	// artifacts from more than one source file.
	ErrAmbiguousBlueprint = errors.New("ambiguous blueprint name")
	// ErrNotDeployable is returned for artifacts without creation bytecode
	// (interfaces, abstract contracts) or with unlinked libraries.
	ErrNotDeployable = errors.New("blueprint is not deployable")
)

// Blueprint is a compiled contract definition ready to be deployed.
type Blueprint struct {
	Name       string
	SourceName string
	ABI        abi.ABI
	Bytecode   types.HexBytes
}

// QualifiedName returns the fully qualified "source:Name" form, or just the
// name when the source is unknown.
func (b *Blueprint) QualifiedName() string {
	if b.SourceName == "" {
		return b.Name
	}
	return b.SourceName + ":" + b.Name
}

// CreationCode returns the bytecode followed by the ABI encoded constructor
// arguments. Deployments never pass arguments, so a constructor that takes
// any is rejected.
func (b *Blueprint) CreationCode() ([]byte, error) {
	if len(b.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: %s has no bytecode", ErrNotDeployable, b.Name)
	}
	args, err := b.ABI.Pack("")
	if err != nil {
		return nil, fmt.Errorf("%w: %s constructor: %v", ErrNotDeployable, b.Name, err)
	}
	code := bytes.Clone(b.Bytecode)
	return append(code, args...), nil
}

// artifactFile covers both the Hardhat artifact layout and the Foundry out
// file layout; the bytecode field is a hex string in the former and an
// object in the latter.
type artifactFile struct {
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       json.RawMessage `json:"bytecode"`
	LinkReferences json.RawMessage `json:"linkReferences"`
}

type foundryBytecode struct {
	Object         string          `json:"object"`
	LinkReferences json.RawMessage `json:"linkReferences"`
}

// ParseArtifact decodes a build artifact. The fallbackName and
// fallbackSource are used when the artifact does not carry them itself, as
// is the case for Foundry where both come from the file path.
func ParseArtifact(data []byte, fallbackName, fallbackSource string) (*Blueprint, error) {
	var af artifactFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("invalid artifact json: %w", err)
	}
	bp := &Blueprint{
		Name:       af.ContractName,
		SourceName: af.SourceName,
	}
	if bp.Name == "" {
		bp.Name = fallbackName
	}
	if bp.SourceName == "" {
		bp.SourceName = fallbackSource
	}
	if len(af.ABI) == 0 {
		return nil, fmt.Errorf("artifact %s has no abi", bp.Name)
	}
	parsedABI, err := abi.JSON(bytes.NewReader(af.ABI))
	if err != nil {
		return nil, fmt.Errorf("artifact %s has an invalid abi: %w", bp.Name, err)
	}
	bp.ABI = parsedABI

	code, links, err := decodeBytecodeField(af.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", bp.Name, err)
	}
	if len(links) == 0 {
		links = af.LinkReferences
	}
	if hasLinkReferences(links) || strings.Contains(code, "__") {
		return nil, fmt.Errorf("%w: %s requires library linking", ErrNotDeployable, bp.Name)
	}
	if err := bp.Bytecode.UnmarshalText([]byte(code)); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", bp.Name, err)
	}
	if len(bp.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: %s has no bytecode", ErrNotDeployable, bp.Name)
	}
	return bp, nil
}

func decodeBytecodeField(raw json.RawMessage) (string, json.RawMessage, error) {
	if len(raw) == 0 {
		return "", nil, nil
	}
	var code string
	if err := json.Unmarshal(raw, &code); err == nil {
		return code, nil, nil
	}
	var fb foundryBytecode
	if err := json.Unmarshal(raw, &fb); err != nil {
		return "", nil, fmt.Errorf("unknown bytecode format: %w", err)
	}
	return fb.Object, fb.LinkReferences, nil
}

func hasLinkReferences(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var refs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &refs); err != nil {
		return false
	}
	return len(refs) > 0
}
