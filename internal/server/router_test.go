package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lckrlabs-forks/nix-serve/internal/fetcher"
	"github.com/lckrlabs-forks/nix-serve/internal/signer"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
	"github.com/lckrlabs-forks/nix-serve/internal/upstream"
)

func newTestApp(t *testing.T) (*fiber.App, store.Gateway) {
	t.Helper()
	return newTestAppWithSigner(t, nil)
}

func newTestAppWithSigner(t *testing.T, sg *signer.Signer) (*fiber.App, store.Gateway) {
	t.Helper()

	gw, err := store.NewFSGateway("/nix/store", t.TempDir())
	if err != nil {
		t.Fatalf("NewFSGateway: %v", err)
	}

	client := upstream.New(&http.Client{Timeout: 5 * time.Second})
	f := fetcher.New(nil, client, gw, "/nix/store", t.TempDir())

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:   logger,
		Gateway:  gw,
		Fetcher:  f,
		Signer:   sg,
		StoreDir: "/nix/store",
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app, gw
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error for missing logger")
	}
}

func TestCacheInfoRoute(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/nix-cache-info", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestNarinfoRouteMissReturns404(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.narinfo", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "No such path.\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestNarinfoRouteRejectsMalformedHashPart(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/NOT-VALID.narinfo", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "File not found.\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/nar/a/b/c", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "File not found.\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestHealthRoute(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/health", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/nix-cache-info", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}
