// Package narinfo implements the line-oriented key/value metadata format
// described by spec.md §4.3: parsing preserves unknown keys and collapses
// repeated keys (notably Sig) into order-preserving lists, and emission
// writes the well-known fields back out in the exact order Nix clients
// expect.
package narinfo
