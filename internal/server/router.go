package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lckrlabs-forks/nix-serve/internal/fetcher"
	"github.com/lckrlabs-forks/nix-serve/internal/server/routes"
	"github.com/lckrlabs-forks/nix-serve/internal/signer"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
)

const contextKeyRequestID = "_nixserve_request_id"

// AppOptions controls how the Fiber application dispatches the five wire
// routes of spec.md §4.6.
type AppOptions struct {
	Logger    *logrus.Logger
	Gateway   store.Gateway
	Fetcher   *fetcher.Fetcher
	Signer    *signer.Signer
	StoreDir  string
	Upstreams []string
}

// NewApp builds a Fiber application with recover and request-ID middleware,
// then registers the five routes spec.md §4.6 names, matched in order, plus
// the /-/health diagnostics route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("store gateway is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.StoreDir == "" {
		return nil, fmt.Errorf("store directory is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	h := &handlers{
		logger:   opts.Logger,
		gateway:  opts.Gateway,
		fetcher:  opts.Fetcher,
		signer:   opts.Signer,
		storeDir: opts.StoreDir,
	}

	app.Get("/nix-cache-info", h.handleCacheInfo)
	app.Get("/:name", h.handleNarinfo)
	app.Get("/nar/:name", h.handleNar)
	app.Get("/log/:name", h.handleLog)

	routes.RegisterHealthRoute(app, opts.Gateway, opts.StoreDir, len(opts.Upstreams))

	app.Use(func(c fiber.Ctx) error {
		return notFound(c, "File not found.\n")
	})

	return app, nil
}

func requestIDMiddleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)
	return c.Next()
}

// RequestID returns the request identifier stored by requestIDMiddleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
