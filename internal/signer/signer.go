package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Fingerprint builds the canonical string form of (storePath, narHash,
// narSize, references) that Nix cache clients sign and verify (spec.md
// §4.7). references must be full store paths, comma-joined, in the order
// the store returns them.
func Fingerprint(storePath, narHash string, narSize int64, references []string) string {
	return fmt.Sprintf("1;%s;%s;%d;%s", storePath, narHash, narSize, strings.Join(references, ","))
}

// Signer wraps an optional Ed25519 key loaded from NIX_SECRET_KEY_FILE
// (spec.md §6). A nil *Signer, or one built from an empty key, signs
// nothing; callers should forward upstream signatures verbatim instead
// (spec.md §4.7, §3).
type Signer struct {
	name string
	key  ed25519.PrivateKey
}

// ErrMalformedKey is returned by Load when the key file content doesn't
// match Nix's "name:base64(64-byte key)" format.
var ErrMalformedKey = errors.New("signer: malformed secret key")

// Load parses the trimmed contents of a NIX_SECRET_KEY_FILE. The format is
// "<name>:<base64 of a 64-byte Ed25519 private key>", the same layout Nix
// itself writes — seed in the first 32 bytes, public key in the last 32 —
// which happens to be byte-identical to Go's ed25519.PrivateKey encoding.
func Load(contents string) (*Signer, error) {
	contents = strings.TrimSpace(contents)
	if contents == "" {
		return nil, nil
	}

	name, encoded, ok := strings.Cut(contents, ":")
	if !ok || name == "" || encoded == "" {
		return nil, ErrMalformedKey
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedKey, ed25519.PrivateKeySize, len(raw))
	}

	return &Signer{name: name, key: ed25519.PrivateKey(raw)}, nil
}

// Sign returns a "<name>:<base64(signature)>" string over fingerprint,
// ready to go straight onto a narinfo Sig: line.
func (s *Signer) Sign(fingerprint string) string {
	sig := ed25519.Sign(s.key, []byte(fingerprint))
	return s.name + ":" + base64.StdEncoding.EncodeToString(sig)
}
