package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/nix/nar"
	"zombiezen.com/go/nix/nixbase32"
)

// FSGateway is the reference Store Gateway implementation (spec.md §4.1),
// grounded on the teacher's internal/cache/fs_store.go: a per-key lock map
// plus temp-file-then-rename writes, generalized from flat cache bodies to
// NAR-serialized directory trees and a small JSON metadata sidecar that
// stands in for the SQLite database a real Nix store would keep
// (out of scope per spec.md §1).
//
// On-disk layout under root:
//
//	store/<hashpart>-<name>/...   materialized store object
//	meta/<hashpart>.json          PathInfo sidecar
//	logs/<name>.log                build log, if any (written out-of-band)
type FSGateway struct {
	storeDir string
	root     string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewFSGateway builds a gateway claiming storeDir (e.g. "/nix/store") as
// the protocol-visible store directory, materializing objects under root
// on disk.
func NewFSGateway(storeDir, root string) (*FSGateway, error) {
	if storeDir == "" {
		return nil, errors.New("store: storeDir required")
	}
	if root == "" {
		return nil, errors.New("store: root required")
	}

	for _, sub := range []string{"store", "meta", "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return &FSGateway{
		storeDir: strings.TrimSuffix(storeDir, "/"),
		root:     root,
		locks:    make(map[string]*entryLock),
	}, nil
}

type sidecar struct {
	StorePath        string    `json:"storePath"`
	Deriver          string    `json:"deriver,omitempty"`
	NarHash          string    `json:"narHash"`
	NarSize          int64     `json:"narSize"`
	References       []string  `json:"references,omitempty"`
	RegistrationTime time.Time `json:"registrationTime"`
	Sigs             []string  `json:"sigs,omitempty"`
}

func (g *FSGateway) LookupByHashPart(ctx context.Context, hashPart string) (string, error) {
	if !ValidHashPart(hashPart) {
		return "", ErrNotFound
	}
	sc, err := g.readSidecar(hashPart)
	if err != nil {
		return "", err
	}
	return sc.StorePath, nil
}

func (g *FSGateway) QueryPathInfo(ctx context.Context, storePath string) (PathInfo, error) {
	leaf, err := g.leafName(storePath)
	if err != nil {
		return PathInfo{}, ErrNotFound
	}
	hashPart := leaf[:32]

	sc, err := g.readSidecar(hashPart)
	if err != nil {
		return PathInfo{}, err
	}
	if sc.StorePath != storePath {
		return PathInfo{}, ErrNotFound
	}

	return PathInfo{
		StorePath:        sc.StorePath,
		Deriver:          sc.Deriver,
		NarHash:          sc.NarHash,
		NarSize:          sc.NarSize,
		References:       sc.References,
		RegistrationTime: sc.RegistrationTime,
		Sigs:             sc.Sigs,
	}, nil
}

func (g *FSGateway) StreamPath(ctx context.Context, storePath string) (io.ReadCloser, int64, error) {
	leaf, err := g.leafName(storePath)
	if err != nil {
		return nil, 0, ErrNotFound
	}
	hashPart := leaf[:32]

	sc, err := g.readSidecar(hashPart)
	if err != nil {
		return nil, 0, err
	}
	if sc.StorePath != storePath {
		return nil, 0, ErrNotFound
	}

	dir := g.materializedDir(leaf)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pr, pw := io.Pipe()
	go func() {
		err := writeNar(pw, dir)
		pw.CloseWithError(err)
	}()

	return pr, sc.NarSize, nil
}

// RestorePath unpacks archive under storePath and records the NAR hash and
// size it computes from the archive bytes, together with meta. It does not
// check the archive against storePath's hash part or any expected NAR
// hash; whatever archive it is given is accepted.
func (g *FSGateway) RestorePath(ctx context.Context, storePath string, archive io.Reader, meta Metadata) error {
	leaf, err := g.leafName(storePath)
	if err != nil {
		return fmt.Errorf("%w: store path %q not under %q", ErrStoreUnavailable, storePath, g.storeDir)
	}
	hashPart := leaf[:32]

	unlock := g.lockEntry(hashPart)
	defer unlock()

	if sc, err := g.readSidecar(hashPart); err == nil && sc.StorePath == storePath {
		// Another caller already restored this path (spec.md §4.5/§9's
		// race-tolerance requirement): treat this as success.
		io.Copy(io.Discard, archive)
		return nil
	}

	dir := g.materializedDir(leaf)
	tempDir, err := os.MkdirTemp(filepath.Join(g.root, "store"), ".restore-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer os.RemoveAll(tempDir)

	hasher := sha256.New()
	counted := &countingReader{r: io.TeeReader(archive, hasher)}

	if err := unpackNar(ctx, counted, tempDir); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	narHash := "sha256:" + nixbase32.EncodeToString(hasher.Sum(nil))

	if err := os.Rename(tempDir, dir); err != nil {
		if errors.Is(err, fs.ErrExist) || os.IsExist(err) {
			// Lost the race to another restorer; the winner's sidecar is
			// authoritative.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sc := sidecar{
		StorePath:        storePath,
		Deriver:          meta.Deriver,
		NarHash:          narHash,
		NarSize:          counted.n,
		References:       meta.References,
		RegistrationTime: time.Now().UTC(),
		Sigs:             meta.Sigs,
	}
	if err := g.writeSidecar(hashPart, sc); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

func (g *FSGateway) StreamBuildLog(ctx context.Context, name string) (io.ReadCloser, error) {
	path := filepath.Join(g.root, "logs", name+".log")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return f, nil
}

func (g *FSGateway) leafName(storePath string) (string, error) {
	prefix := g.storeDir + "/"
	if !strings.HasPrefix(storePath, prefix) {
		return "", fmt.Errorf("store path %q not under %q", storePath, g.storeDir)
	}
	leaf := strings.TrimPrefix(storePath, prefix)
	if len(leaf) < 34 || leaf[32] != '-' {
		return "", fmt.Errorf("malformed store path leaf %q", leaf)
	}
	return leaf, nil
}

func (g *FSGateway) materializedDir(leaf string) string {
	return filepath.Join(g.root, "store", leaf)
}

func (g *FSGateway) sidecarPath(hashPart string) string {
	return filepath.Join(g.root, "meta", hashPart+".json")
}

func (g *FSGateway) readSidecar(hashPart string) (sidecar, error) {
	data, err := os.ReadFile(g.sidecarPath(hashPart))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sidecar{}, ErrNotFound
		}
		return sidecar{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return sidecar{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return sc, nil
}

func (g *FSGateway) writeSidecar(hashPart string, sc sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}

	metaDir := filepath.Join(g.root, "meta")
	tmp, err := os.CreateTemp(metaDir, ".meta-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, g.sidecarPath(hashPart))
}

func (g *FSGateway) lockEntry(key string) func() {
	g.mu.Lock()
	lock := g.locks[key]
	if lock == nil {
		lock = &entryLock{}
		g.locks[key] = lock
	}
	lock.refs++
	g.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		g.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// unpackNar materializes a NAR stream under destDir, same traversal
// pattern as JonathanPerry651-nix-bazel's unpackNar.
func unpackNar(ctx context.Context, r io.Reader, destDir string) error {
	reader := nar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, hdr.Path)

		switch {
		case hdr.Mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case hdr.Mode&fs.ModeSymlink != 0:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.LinkTarget, target); err != nil {
				return err
			}
		case hdr.Mode.IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			perm := fs.FileMode(0o644)
			if hdr.Mode&0o111 != 0 {
				perm = 0o755
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, reader); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// writeNar re-serializes a materialized directory tree as a NAR, walking
// entries in sorted order for deterministic output.
func writeNar(w io.Writer, root string) error {
	nw := nar.NewWriter(w)

	var walk func(path, relPath string) error
	walk = func(path, relPath string) error {
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return nw.WriteHeader(&nar.Header{
				Path:       relPath,
				Mode:       fs.ModeSymlink,
				LinkTarget: target,
			})
		case info.IsDir():
			if err := nw.WriteHeader(&nar.Header{
				Path: relPath,
				Mode: fs.ModeDir,
			}); err != nil {
				return err
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			for _, name := range names {
				if err := walk(filepath.Join(path, name), relPath+"/"+name); err != nil {
					return err
				}
			}
			return nil
		default:
			perm := fs.FileMode(0o644)
			if info.Mode()&0o111 != 0 {
				perm = 0o755
			}
			if err := nw.WriteHeader(&nar.Header{
				Path: relPath,
				Mode: perm,
				Size: info.Size(),
			}); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(nw, f)
			return err
		}
	}

	if err := walk(root, ""); err != nil {
		return err
	}
	return nw.Close()
}
