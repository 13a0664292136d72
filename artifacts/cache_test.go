package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

var (
	dummyPath            = "Groth16VerifyBn254.json"
	dummyArtifactContent = mustReadFile("testdata/hardhat/contracts/Groth16Verifier.sol/Groth16VerifyBn254.json")
)

func mustReadFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	return data
}

func testArtifactServer(requests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.ServeContent(w, r, dummyPath, time.Now(), bytes.NewReader(dummyArtifactContent))
	}))
}

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "deployer-artifacts")
	if err != nil {
		panic(err)
	}
	BaseDir = dir
	code := m.Run()
	if err := os.RemoveAll(BaseDir); err != nil {
		panic(err)
	}
	os.Exit(code)
}

func TestLoadArtifact(t *testing.T) {
	c := qt.New(t)
	requests := new(atomic.Int32)
	server := testArtifactServer(requests)
	defer server.Close()

	expectedHash := sha256.Sum256(dummyArtifactContent)
	remoteURL, err := url.JoinPath(server.URL, dummyPath)
	c.Assert(err, qt.IsNil)
	artifact := &Artifact{
		RemoteURL: remoteURL,
		Hash:      expectedHash[:],
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// not cached: downloaded
	c.Assert(artifact.Load(ctx), qt.IsNil)
	c.Assert(artifact.Content, qt.DeepEquals, dummyArtifactContent)
	c.Assert(requests.Load(), qt.Equals, int32(1))

	// cached: served from disk
	artifact.Content = nil
	c.Assert(artifact.Load(ctx), qt.IsNil)
	c.Assert(artifact.Content, qt.DeepEquals, dummyArtifactContent)
	c.Assert(requests.Load(), qt.Equals, int32(1))

	// wrong hash
	wrong := &Artifact{RemoteURL: remoteURL, Hash: []byte("wrong hash")}
	c.Assert(wrong.Load(ctx), qt.IsNotNil)

	// no hash
	c.Assert((&Artifact{RemoteURL: remoteURL}).Load(ctx), qt.ErrorMatches, "artifact hash not provided")
}

func TestLoadArtifactResumesPartialDownload(t *testing.T) {
	c := qt.New(t)
	requests := new(atomic.Int32)
	server := testArtifactServer(requests)
	defer server.Close()

	expectedHash := sha256.Sum256(dummyArtifactContent)
	artifact := &Artifact{RemoteURL: server.URL + "/" + dummyPath, Hash: expectedHash[:]}
	cached := filepath.Join(BaseDir, hex.EncodeToString(artifact.Hash))
	c.Assert(os.RemoveAll(cached), qt.IsNil)
	partial := cached + ".partial"
	c.Assert(os.WriteFile(partial, dummyArtifactContent[:20], 0o644), qt.IsNil)

	c.Assert(artifact.Load(context.Background()), qt.IsNil)
	c.Assert(artifact.Content, qt.DeepEquals, dummyArtifactContent)
	c.Assert(requests.Load(), qt.Equals, int32(1))
	_, err := os.Stat(partial)
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestRemoteResolver(t *testing.T) {
	c := qt.New(t)
	requests := new(atomic.Int32)
	server := testArtifactServer(requests)
	defer server.Close()

	expectedHash := sha256.Sum256(dummyArtifactContent)
	resolver := NewRemoteResolver(server.URL+"/"+dummyPath, expectedHash[:])

	bp, err := resolver.Resolve(context.Background(), "Groth16VerifyBn254")
	c.Assert(err, qt.IsNil)
	c.Assert(bp.Name, qt.Equals, "Groth16VerifyBn254")

	_, err = resolver.Resolve(context.Background(), "Groth16VerifyBn25")
	c.Assert(err, qt.ErrorIs, ErrBlueprintNotFound)
}
