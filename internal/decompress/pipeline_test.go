package decompress

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func writeTemp(t *testing.T, dir string, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "src-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestDecompressNoneIsIdentity(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, []byte("raw bytes"))

	dst, err := Decompress(context.Background(), "none", src, dir)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if dst != src {
		t.Fatalf("expected identity path, got %s != %s", dst, src)
	}
}

func TestDecompressGzip(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("hello gzip"))
	gw.Close()

	src := writeTemp(t, dir, buf.Bytes())
	dst, err := Decompress(context.Background(), "gzip", src, dir)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello gzip" {
		t.Fatalf("got %q", got)
	}
}

func TestDecompressZstd(t *testing.T) {
	dir := t.TempDir()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	compressed := enc.EncodeAll([]byte("hello zstd"), nil)

	src := writeTemp(t, dir, compressed)
	dst, err := Decompress(context.Background(), "zstd", src, dir)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello zstd" {
		t.Fatalf("got %q", got)
	}
}

func TestDecompressUnknownTagDeletesInput(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, []byte("whatever"))

	_, err := Decompress(context.Background(), "lz4", src, dir)
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, statErr := os.Stat(src); !os.IsNotExist(statErr) {
		t.Fatalf("expected source to be removed")
	}
}

func TestDecompressGzipFailureDeletesBothFiles(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, []byte("not actually gzip"))

	_, err := Decompress(context.Background(), "gzip", src, dir)
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, statErr := os.Stat(src); !os.IsNotExist(statErr) {
		t.Fatalf("expected source to be removed on failure")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, got %v", entries)
	}
}
