package decompress

import "errors"

// ErrUnsupportedCompression is returned for any tag outside
// {none, xz, bzip2, gzip, zstd} (spec.md §4.4).
var ErrUnsupportedCompression = errors.New("decompress: unsupported compression tag")

// ErrDecompressionFailed is returned when the decoder (in-process or
// subprocess) fails partway through the stream (spec.md §4.4).
var ErrDecompressionFailed = errors.New("decompress: decompression failed")
