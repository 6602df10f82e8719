// Package signer implements spec.md §4.7's fingerprint and signing
// semantics: computing the canonical fingerprint of a store object and,
// when a secret key is configured, producing the single Sig line that
// replaces any upstream signatures.
package signer
