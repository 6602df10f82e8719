// Package fetcher implements the Pull-Through Fetcher of spec.md §4.5 and
// §4.8: given a hash part, walk the configured upstream caches in order,
// trying each one through the Probe → Parse → Download → Decompress →
// Restore state machine until one yields a restored store path, or every
// upstream is exhausted (Miss).
package fetcher
