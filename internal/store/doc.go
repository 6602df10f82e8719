// Package store implements the Store Gateway capability of spec.md §4.1: a
// narrow interface over a content-addressed package store (lookup by hash
// part, metadata query, archive streaming, archive restore, build-log
// streaming) plus a concrete on-disk implementation that stands in for a
// real Nix store (out of scope per spec.md §1).
package store
