package decompress

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/klauspost/compress/zstd"
)

// Decompress reads srcPath under the compression named by tag and writes
// the decompressed content to a new temp file created in dir, returning
// its path. tag == "none" is the identity case: srcPath is returned
// unchanged and ownership of that temp file passes to the caller (spec.md
// §4.4).
//
// On ErrUnsupportedCompression or ErrDecompressionFailed, Decompress
// deletes every temp file it touched (the input and, if created, the
// partial output) before returning, per spec.md §4.4.
func Decompress(ctx context.Context, tag, srcPath, dir string) (string, error) {
	switch tag {
	case "", "none":
		return srcPath, nil
	case "gzip":
		return decodeGzip(srcPath, dir)
	case "bzip2":
		return decodeBzip2(srcPath, dir)
	case "zstd":
		return decodeZstd(srcPath, dir)
	case "xz":
		return decodeXz(ctx, srcPath, dir)
	default:
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCompression, tag)
	}
}

func decodeGzip(srcPath, dir string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: open source: %v", ErrDecompressionFailed, err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer gz.Close()

	return drainToTempFile(gz, srcPath, dir, "gzip-*")
}

func decodeBzip2(srcPath, dir string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: open source: %v", ErrDecompressionFailed, err)
	}
	defer src.Close()

	return drainToTempFile(bzip2.NewReader(src), srcPath, dir, "bzip2-*")
}

func decodeZstd(srcPath, dir string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: open source: %v", ErrDecompressionFailed, err)
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer dec.Close()

	return drainToTempFile(dec, srcPath, dir, "zstd-*")
}

// decodeXz shells out to `xz -d` with argument-list invocation (no shell
// interpolation; spec.md §9's explicit design note). The process is
// Wait()-ed right after its stdout is fully drained so it is never left a
// zombie (spec.md §5).
func decodeXz(ctx context.Context, srcPath, dir string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: open source: %v", ErrDecompressionFailed, err)
	}
	defer src.Close()

	cmd := exec.CommandContext(ctx, "xz", "-d", "-c")
	cmd.Stdin = src
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}

	if err := cmd.Start(); err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: start xz: %v", ErrDecompressionFailed, err)
	}

	dstPath, copyErr := drainToTempFile(stdout, srcPath, dir, "xz-*")
	waitErr := cmd.Wait()
	if copyErr != nil {
		return "", copyErr
	}
	if waitErr != nil {
		os.Remove(srcPath)
		os.Remove(dstPath)
		return "", fmt.Errorf("%w: xz exited: %v", ErrDecompressionFailed, waitErr)
	}

	return dstPath, nil
}

// drainToTempFile copies r into a new temp file under dir. On failure it
// removes srcPath (the original input, always present) and the partial
// output temp file (if one was created) before returning
// ErrDecompressionFailed.
func drainToTempFile(r io.Reader, srcPath, dir, pattern string) (string, error) {
	dst, err := os.CreateTemp(dir, pattern)
	if err != nil {
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: create output temp file: %v", ErrDecompressionFailed, err)
	}
	dstPath := dst.Name()

	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(dstPath)
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		os.Remove(srcPath)
		return "", fmt.Errorf("%w: close output: %v", ErrDecompressionFailed, err)
	}

	return dstPath, nil
}
