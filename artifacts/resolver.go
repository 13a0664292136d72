package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vocdoni/verifier-deployer/log"
)

// Resolver returns the compiled blueprint for a contract name. It must fail
// with an error wrapping ErrBlueprintNotFound when the name is unknown.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*Blueprint, error)
}

// skippedDirs are build output folders that never contain contract artifacts.
var skippedDirs = map[string]struct{}{
	"build-info": {},
	"cache":      {},
}

// DirResolver looks contracts up in a build output directory (Hardhat's
// artifacts/ or Foundry's out/).
type DirResolver struct {
	Dir string
}

// NewDirResolver returns a resolver over the given build output directory.
func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{Dir: dir}
}

// Resolve accepts a bare contract name ("Groth16VerifyBn254") or a fully
// qualified one ("contracts/Verifier.sol:Groth16VerifyBn254"). A bare name
// that exists in several source files is ambiguous and rejected.
func (r *DirResolver) Resolve(ctx context.Context, name string) (*Blueprint, error) {
	source, contract := splitQualifiedName(name)
	if contract == "" {
		return nil, fmt.Errorf("%w: empty contract name", ErrBlueprintNotFound)
	}
	if _, err := os.Stat(r.Dir); err != nil {
		return nil, fmt.Errorf("%w: %s (build output %s: %v)", ErrBlueprintNotFound, name, r.Dir, err)
	}
	var matches []*Blueprint
	err := filepath.WalkDir(r.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != contract+".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading artifact %s: %w", path, err)
		}
		// Foundry stores out/<File>.sol/<Name>.json without a source name.
		bp, err := ParseArtifact(data, contract, filepath.Base(filepath.Dir(path)))
		if err != nil {
			if errors.Is(err, ErrNotDeployable) {
				return err
			}
			log.Debugw("skipping unreadable artifact", "path", path, "error", err)
			return nil
		}
		if bp.Name != contract || !matchesSource(bp.SourceName, source) {
			return nil
		}
		matches = append(matches, bp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", name, err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s (searched %s)", ErrBlueprintNotFound, name, r.Dir)
	case 1:
		log.Debugw("blueprint resolved", "name", matches[0].QualifiedName(), "size", len(matches[0].Bytecode))
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.QualifiedName())
		}
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguousBlueprint, name, strings.Join(names, ", "))
	}
}

// RemoteResolver serves the one contract contained in a hash-pinned remote
// artifact.
type RemoteResolver struct {
	Artifact *Artifact
}

// NewRemoteResolver returns a resolver for the artifact published at url
// whose content hashes (sha256) to hash.
func NewRemoteResolver(url string, hash []byte) *RemoteResolver {
	return &RemoteResolver{Artifact: &Artifact{RemoteURL: url, Hash: hash}}
}

// Resolve loads (downloading if needed) the artifact and checks that it is
// the requested contract.
func (r *RemoteResolver) Resolve(ctx context.Context, name string) (*Blueprint, error) {
	if err := r.Artifact.Load(ctx); err != nil {
		return nil, fmt.Errorf("error loading remote artifact %s: %w", r.Artifact.RemoteURL, err)
	}
	bp, err := ParseArtifact(r.Artifact.Content, "", "")
	if err != nil {
		return nil, err
	}
	source, contract := splitQualifiedName(name)
	if bp.Name != contract || !matchesSource(bp.SourceName, source) {
		return nil, fmt.Errorf("%w: %s (remote artifact contains %s)", ErrBlueprintNotFound, name, bp.QualifiedName())
	}
	return bp, nil
}

// ContractName returns the bare contract name of a bare or fully qualified
// ("path/to/Source.sol:Name") contract name.
func ContractName(name string) string {
	_, contract := splitQualifiedName(name)
	return contract
}

func splitQualifiedName(name string) (source, contract string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// matchesSource compares the requested source path with the artifact one.
// Foundry artifacts only know the file name, so the base names are compared
// as a fallback.
func matchesSource(artifactSource, wanted string) bool {
	if wanted == "" {
		return true
	}
	wanted = filepath.ToSlash(wanted)
	artifactSource = filepath.ToSlash(artifactSource)
	return artifactSource == wanted || filepath.Base(artifactSource) == wanted ||
		(!strings.Contains(artifactSource, "/") && filepath.Base(wanted) == artifactSource)
}
