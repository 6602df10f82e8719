package routes

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/lckrlabs-forks/nix-serve/internal/store"
)

// RegisterHealthRoute exposes /-/health, reporting store reachability and
// the configured upstream count — the one "module" this domain has, unlike
// the teacher's per-module /-/modules registry (spec.md §5.6).
func RegisterHealthRoute(app *fiber.App, gateway store.Gateway, storeDir string, upstreamCount int) {
	if app == nil || gateway == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		ctx := c.Context()
		probe := fmt.Sprintf("%s/00000000000000000000000000000000-health-check", storeDir)
		_, err := gateway.QueryPathInfo(ctx, probe)

		reachable := err == nil || errors.Is(err, store.ErrNotFound)

		status := fiber.StatusOK
		if !reachable {
			status = fiber.StatusServiceUnavailable
		}

		return c.Status(status).JSON(fiber.Map{
			"store_reachable": reachable,
			"upstream_count":  upstreamCount,
		})
	})
}
