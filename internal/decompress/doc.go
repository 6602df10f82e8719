// Package decompress implements the Decompression Pipeline of spec.md
// §4.4: given a compression tag and a temp-file byte source, it produces a
// temp-file byte source of the decompressed content, or reports
// ErrUnsupportedCompression / ErrDecompressionFailed while cleaning up the
// temp files it touched.
package decompress
