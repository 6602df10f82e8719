package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"zombiezen.com/go/nix/nar"

	"github.com/lckrlabs-forks/nix-serve/internal/signer"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
)

const testHashPart = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func buildAndRestore(t *testing.T, gw store.Gateway, storePath string, meta store.Metadata) {
	t.Helper()
	var buf bytes.Buffer
	w := nar.NewWriter(&buf)
	if err := w.WriteHeader(&nar.Header{Path: "", Mode: 0o755 | os.ModeDir}); err != nil {
		t.Fatalf("root header: %v", err)
	}
	if err := w.WriteHeader(&nar.Header{Path: "/file", Mode: 0o644, Size: 5}); err != nil {
		t.Fatalf("file header: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := gw.RestorePath(context.Background(), storePath, &buf, meta); err != nil {
		t.Fatalf("RestorePath: %v", err)
	}
}

func TestNarinfoRouteEmitsRecordWithLocalSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sg, err := signer.Load("cache.example.org-1:" + base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	app, gw := newTestAppWithSigner(t, sg)
	storePath := "/nix/store/" + testHashPart + "-hello"
	buildAndRestore(t, gw, storePath, store.Metadata{
		References: []string{"/nix/store/cccccccccccccccccccccccccccccccc-dep"},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/"+testHashPart+".narinfo", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("got status %d, body %s", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	if !strings.Contains(text, "StorePath: "+storePath) {
		t.Fatalf("missing StorePath: %s", text)
	}
	if !strings.Contains(text, "References: cccccccccccccccccccccccccccccccc-dep") {
		t.Fatalf("missing References: %s", text)
	}
	if !strings.Contains(text, "Sig: cache.example.org-1:") {
		t.Fatalf("missing local Sig: %s", text)
	}
}

func TestNarRouteHashMismatchReturns404(t *testing.T) {
	app, gw := newTestApp(t)
	storePath := "/nix/store/" + testHashPart + "-hello"
	buildAndRestore(t, gw, storePath, store.Metadata{})

	resp, err := app.Test(httptest.NewRequest("GET", "/nar/"+testHashPart+"-0000000000000000000000000000000000000000000000000000.nar", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Incorrect NAR hash. Maybe the path has been recreated.\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestLegacyNarRouteStreamsArchive(t *testing.T) {
	app, gw := newTestApp(t)
	storePath := "/nix/store/" + testHashPart + "-hello"
	buildAndRestore(t, gw, storePath, store.Metadata{})

	resp, err := app.Test(httptest.NewRequest("GET", "/nar/"+testHashPart+".nar", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("got status %d, body %s", resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected non-empty archive body")
	}
}

func TestLogRouteNotFound(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/log/"+testHashPart+"-hello.drv", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}
