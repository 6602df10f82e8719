package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/lckrlabs-forks/nix-serve/internal/decompress"
	"github.com/lckrlabs-forks/nix-serve/internal/logging"
	"github.com/lckrlabs-forks/nix-serve/internal/narinfo"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
	"github.com/lckrlabs-forks/nix-serve/internal/upstream"
)

// Fetcher walks a fixed, ordered list of upstream caches trying to satisfy
// a miss against the local Store Gateway (spec.md §4.5). It holds no
// per-request state and is safe for concurrent use; the upstream list,
// store directory and HTTP client are read-only after construction (spec.md
// §5).
type Fetcher struct {
	upstreams []string
	client    *upstream.Client
	gateway   store.Gateway
	storeDir  string
	tempDir   string
}

// New builds a Fetcher. storeDir is the protocol-visible store directory
// (e.g. "/nix/store"), used to turn the leaf-name References a narinfo
// carries into the full store paths the signer's fingerprint and the
// gateway's Metadata expect. tempDir is where per-fetch scratch files are
// created; os.TempDir() is a reasonable default.
func New(upstreams []string, client *upstream.Client, gateway store.Gateway, storeDir, tempDir string) *Fetcher {
	return &Fetcher{
		upstreams: upstreams,
		client:    client,
		gateway:   gateway,
		storeDir:  storeDir,
		tempDir:   tempDir,
	}
}

// Fetch implements the per-upstream loop of spec.md §4.5: Probe → Parse →
// Download → Decompress → Restore → Done, falling through to the next
// upstream on any non-terminal failure. It returns the resolved StorePath
// on success, or store.ErrNotFound if every upstream was exhausted without
// success.
func (f *Fetcher) Fetch(ctx context.Context, hashPart string) (string, error) {
	for _, base := range f.upstreams {
		base = upstream.Normalize(base)

		storePath, err := f.attempt(ctx, base, hashPart)
		if err == nil {
			return storePath, nil
		}

		logrus.WithFields(logging.FetchFields(hashPart, base, "next", err)).Debug("upstream did not yield a restore")
	}

	return "", store.ErrNotFound
}

// attempt runs a single upstream through Probe → Parse → Download →
// Decompress → Restore. Every temp file it creates is removed on every
// exit path (spec.md §4.5's temp-file discipline).
func (f *Fetcher) attempt(ctx context.Context, base, hashPart string) (string, error) {
	// Probe
	body, err := f.client.FetchBytes(ctx, base, hashPart+".narinfo")
	if err != nil {
		return "", fmt.Errorf("probe: %w", err)
	}

	// Parse
	rec, err := narinfo.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if rec.StorePath == "" || rec.URL == "" {
		return "", errors.New("parse: narinfo missing StorePath or URL")
	}

	// Download
	downloaded, err := os.CreateTemp(f.tempDir, "nix-serve-fetch-*")
	if err != nil {
		return "", fmt.Errorf("download: create temp file: %w", err)
	}
	downloadedPath := downloaded.Name()
	defer os.Remove(downloadedPath)

	_, err = f.client.FetchToFile(ctx, base, rec.URL, downloaded)
	closeErr := downloaded.Close()
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("download: close temp file: %w", closeErr)
	}

	// Decompress
	decompressedPath, err := decompress.Decompress(ctx, rec.CompressionOrDefault(), downloadedPath, f.tempDir)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	defer os.Remove(decompressedPath)

	// Restore
	archive, err := os.Open(decompressedPath)
	if err != nil {
		return "", fmt.Errorf("restore: open decompressed archive: %w", err)
	}
	defer archive.Close()

	meta := store.Metadata{
		Deriver:    rec.Deriver,
		References: f.fullPaths(rec.References),
		Sigs:       rec.Sig,
	}

	if err := f.gateway.RestorePath(ctx, rec.StorePath, archive, meta); err != nil {
		// The restore may have failed because a concurrent fetch for the
		// same path already won the race (spec.md §4.5/§9); check before
		// giving up on this upstream.
		if resolved, lookupErr := f.gateway.LookupByHashPart(ctx, hashPart); lookupErr == nil && resolved == rec.StorePath {
			return rec.StorePath, nil
		}
		return "", fmt.Errorf("restore: %w", err)
	}

	return rec.StorePath, nil
}

// fullPaths turns leaf-name references into full store paths under
// storeDir, the form store.Metadata and the signer's fingerprint expect.
func (f *Fetcher) fullPaths(leaves []string) []string {
	if len(leaves) == 0 {
		return nil
	}
	full := make([]string, len(leaves))
	for i, leaf := range leaves {
		full[i] = filepath.Join(f.storeDir, leaf)
	}
	return full
}
