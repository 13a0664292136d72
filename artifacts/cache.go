package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vocdoni/verifier-deployer/log"
	"github.com/vocdoni/verifier-deployer/types"
)

// CheckHashes is a flag that determines if the hashes of the artifacts should
// be checked when they are loaded or downloaded. It can be set to false by
// setting the DEPLOYER_CHECK_HASHES environment variable to false or 0.
var CheckHashes = true

// BaseDir is the path where the artifact cache is expected to be found. If the
// artifacts are not found there, they will be downloaded and stored. Defaults
// to the env var DEPLOYER_ARTIFACTS_CACHE or the user cache directory.
var BaseDir string

// downloadProgressInterval is how often the download progress is logged.
var downloadProgressInterval = 10 * time.Second

func init() {
	if checkHashes := os.Getenv("DEPLOYER_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("DEPLOYER_ARTIFACTS_CACHE"); dir != "" {
		BaseDir = dir
		return
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		log.Warnf("unable to access user home directory, using temporary directory: %v", err)
		BaseDir = filepath.Join(os.TempDir(), "verifier-deployer-artifacts")
		return
	}
	BaseDir = filepath.Join(home, ".cache", "verifier-deployer-artifacts")
}

// Artifact is a remotely published build artifact identified by the sha256
// hash of its content. Load first looks for the content in the local cache
// (BaseDir) and downloads it from RemoteURL when it is missing.
type Artifact struct {
	RemoteURL string
	Hash      types.HexBytes
	Content   []byte
}

// Load method loads the artifact content from the local cache, downloading it
// first if it is not cached yet. It returns an error if the hash is not set,
// the content cannot be fetched or it does not match the hash.
func (a *Artifact) Load(ctx context.Context) error {
	if len(a.Content) != 0 {
		return nil
	}
	if len(a.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := load(a.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		if err := a.Download(ctx); err != nil {
			return err
		}
		if content, err = load(a.Hash); err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("no content found after download")
		}
	}
	a.Content = content
	return nil
}

// Download method downloads the content of the artifact from the remote URL,
// checks the hash of the content and stores it in the cache.
func (a *Artifact) Download(ctx context.Context) error {
	if a.RemoteURL == "" {
		return fmt.Errorf("artifact not cached and remote url not provided")
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return fmt.Errorf("error creating the cache directory: %w", err)
	}
	return downloadAndStore(ctx, a.Hash, a.RemoteURL)
}

func load(hash []byte) ([]byte, error) {
	path := filepath.Join(BaseDir, hex.EncodeToString(hash))
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if CheckHashes {
		fileHash := sha256.Sum256(content)
		if !bytes.Equal(fileHash[:], hash) {
			return nil, fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, hash, fileHash)
		}
	}
	return content, nil
}

// progressReader wraps an io.Reader and keeps track of the total bytes read.
type progressReader struct {
	reader        io.Reader
	total         int64 // updated atomically
	contentLength int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	atomic.AddInt64(&pr.total, int64(n))
	return n, err
}

// downloadAndStore downloads a file from a URL and stores it in the local
// cache under its hash. Partial downloads are resumed with a Range request.
func downloadAndStore(ctx context.Context, expectedHash []byte, fileURL string) error {
	if _, err := url.Parse(fileURL); err != nil {
		return fmt.Errorf("error parsing the file URL provided: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(expectedHash))
	partialPath := path + ".partial"

	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("error creating the file request: %w", err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing the request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("error downloading file %s: http status: %d", fileURL, res.StatusCode)
	}

	// append only when the server honoured the range, otherwise start over
	resuming := startByte > 0 && res.StatusCode == http.StatusPartialContent
	fileMode := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resuming {
		fileMode = os.O_APPEND | os.O_WRONLY
	}
	hasher := sha256.New()
	if resuming {
		existing, err := os.Open(partialPath)
		if err != nil {
			return fmt.Errorf("error opening partial artifact file: %w", err)
		}
		_, err = io.Copy(hasher, existing)
		existing.Close()
		if err != nil {
			return fmt.Errorf("error hashing partial artifact file: %w", err)
		}
	} else {
		startByte = 0
	}
	fd, err := os.OpenFile(partialPath, fileMode, 0o644)
	if err != nil {
		return fmt.Errorf("error opening artifact file: %w", err)
	}
	defer fd.Close()

	pr := &progressReader{
		reader:        res.Body,
		contentLength: res.ContentLength + startByte,
	}
	mw := io.MultiWriter(fd, hasher)
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(mw, pr)
		done <- err
	}()
	ticker := time.NewTicker(downloadProgressInterval)
	defer ticker.Stop()
wait:
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("error copying data to file: %w", err)
			}
			break wait
		case <-ticker.C:
			total := atomic.LoadInt64(&pr.total) + startByte
			var percentage float64
			if pr.contentLength > 0 {
				percentage = (float64(total) / float64(pr.contentLength)) * 100
			}
			log.Debugw("download artifact", "url", fileURL,
				"downloaded", fmt.Sprintf("%.2fKiB", float64(total)/1024),
				"progress", fmt.Sprintf("%.2f%%", percentage))
		}
	}
	if CheckHashes {
		if computed := hasher.Sum(nil); !bytes.Equal(computed, expectedHash) {
			os.Remove(partialPath)
			return fmt.Errorf("hash mismatch: expected %x, got %x", expectedHash, computed)
		}
	}
	if err := fd.Close(); err != nil {
		return fmt.Errorf("error closing artifact file: %w", err)
	}
	if err := os.Rename(partialPath, path); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}
