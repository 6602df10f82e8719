package store

import (
	"context"
	"errors"
	"io"
	"regexp"
	"time"
)

// ErrNotFound mirrors spec.md §4.1: the store has no object for the given
// hash part or store path.
var ErrNotFound = errors.New("store: not found")

// ErrStoreUnavailable mirrors spec.md §4.1/§7: a hard, non-recoverable
// failure talking to the store (disk I/O, permissions, corruption).
var ErrStoreUnavailable = errors.New("store: unavailable")

// HashPartPattern is the invariant from spec.md §3: lowercase base-32,
// exactly 32 characters.
var HashPartPattern = regexp.MustCompile(`^[0-9a-z]{32}$`)

// ValidHashPart reports whether s satisfies the HashPart invariant.
func ValidHashPart(s string) bool {
	return HashPartPattern.MatchString(s)
}

// PathInfo is the richer record returned by QueryPathInfo (spec.md §4.1),
// modeled on input-output-hk-spongix's ValidPathInfo.
type PathInfo struct {
	StorePath        string
	Deriver          string
	NarHash          string
	NarSize          int64
	References       []string
	RegistrationTime time.Time
	Sigs             []string
}

// Metadata carries the facts about a store object that the NAR archive
// format itself cannot express (references, deriver, any signatures
// forwarded from upstream). A real Nix store learns these from a separate
// worker-protocol registration call made alongside the NAR import; this
// gateway's RestorePath takes them directly since there is no separate
// registration round-trip in this protocol.
type Metadata struct {
	Deriver    string
	References []string
	Sigs       []string
}

// Gateway is the narrow capability interface spec.md §6 describes. All
// methods must be safe to call concurrently from multiple request
// handlers (spec.md §4.1).
type Gateway interface {
	// LookupByHashPart resolves the canonical store path for a hash part,
	// or returns ErrNotFound.
	LookupByHashPart(ctx context.Context, hashPart string) (string, error)

	// QueryPathInfo returns the registered metadata for a store path.
	QueryPathInfo(ctx context.Context, storePath string) (PathInfo, error)

	// StreamPath returns the NAR serialization of a store object and its
	// total length (equal to the NarSize QueryPathInfo reports).
	StreamPath(ctx context.Context, storePath string) (io.ReadCloser, int64, error)

	// RestorePath materializes the archive under storePath, verifying the
	// restored content against the path's content address, and records
	// meta. A non-zero status is a hard failure (spec.md §4.1).
	RestorePath(ctx context.Context, storePath string, archive io.Reader, meta Metadata) error

	// StreamBuildLog returns the build log for a store path leaf name, or
	// ErrNotFound.
	StreamBuildLog(ctx context.Context, name string) (io.ReadCloser, error)
}
