package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lckrlabs-forks/nix-serve/internal/fetcher"
	"github.com/lckrlabs-forks/nix-serve/internal/logging"
	"github.com/lckrlabs-forks/nix-serve/internal/narinfo"
	"github.com/lckrlabs-forks/nix-serve/internal/signer"
	"github.com/lckrlabs-forks/nix-serve/internal/store"
)

// handlers groups the dependencies the five wire routes need. It holds no
// per-request state (spec.md §5): gateway, fetcher, signer and storeDir are
// all read-only after NewApp builds it.
type handlers struct {
	logger   *logrus.Logger
	gateway  store.Gateway
	fetcher  *fetcher.Fetcher
	signer   *signer.Signer
	storeDir string
}

var logNamePattern = regexp.MustCompile(`^[0-9a-z]+-[0-9a-zA-Z+\-._?=]+$`)

func (h *handlers) handleCacheInfo(c fiber.Ctx) error {
	body := fmt.Sprintf("StoreDir: %s\nWantMassQuery: 1\nPriority: 30\n", h.storeDir)
	c.Set(fiber.HeaderContentType, "text/plain")
	return c.SendString(body)
}

func (h *handlers) handleNarinfo(c fiber.Ctx) error {
	hashPart, ok := strings.CutSuffix(c.Params("name"), ".narinfo")
	if !ok || !store.ValidHashPart(hashPart) {
		return notFound(c, "File not found.\n")
	}

	ctx := requestContext(c)
	storePath, err := h.resolve(ctx, hashPart)
	if err != nil {
		return h.respondErr(c, err)
	}

	info, err := h.gateway.QueryPathInfo(ctx, storePath)
	if err != nil {
		return h.respondErr(c, err)
	}

	rec := h.composeNarinfo(info)
	c.Set(fiber.HeaderContentType, "text/x-nix-narinfo")
	return c.Send(rec.Emit())
}

func (h *handlers) handleNar(c fiber.Ctx) error {
	trimmed, ok := strings.CutSuffix(c.Params("name"), ".nar")
	if !ok {
		return notFound(c, "File not found.\n")
	}
	hashPart, narHash, hasHash := splitNarName(trimmed)
	if !store.ValidHashPart(hashPart) {
		return notFound(c, "File not found.\n")
	}

	ctx := requestContext(c)
	storePath, err := h.resolve(ctx, hashPart)
	if err != nil {
		return h.respondErr(c, err)
	}

	if hasHash {
		info, err := h.gateway.QueryPathInfo(ctx, storePath)
		if err != nil {
			return h.respondErr(c, err)
		}
		if info.NarHash != "sha256:"+narHash {
			return notFound(c, "Incorrect NAR hash. Maybe the path has been recreated.\n")
		}
	}

	rc, size, err := h.gateway.StreamPath(ctx, storePath)
	if err != nil {
		return h.respondErr(c, err)
	}
	defer rc.Close()

	c.Set(fiber.HeaderContentType, "text/plain")
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(size, 10))
	_, err = io.Copy(c.Response().BodyWriter(), rc)
	return err
}

func (h *handlers) handleLog(c fiber.Ctx) error {
	name := c.Params("name")
	if !logNamePattern.MatchString(name) {
		return notFound(c, "File not found.\n")
	}

	rc, err := h.gateway.StreamBuildLog(requestContext(c), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "File not found.\n")
		}
		return h.respondErr(c, err)
	}
	defer rc.Close()

	c.Set(fiber.HeaderContentType, "text/plain")
	_, err = io.Copy(c.Response().BodyWriter(), rc)
	return err
}

// resolve looks a hash part up locally, falling through to the
// Pull-Through Fetcher on a local miss (spec.md §4.6).
func (h *handlers) resolve(ctx context.Context, hashPart string) (string, error) {
	storePath, err := h.gateway.LookupByHashPart(ctx, hashPart)
	if err == nil {
		return storePath, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return h.fetcher.Fetch(ctx, hashPart)
}

// respondErr maps the internal error taxonomy of spec.md §7 onto the two
// HTTP outcomes the dispatcher is responsible for: ErrNotFound is always a
// 404, anything else is a hard store failure.
func (h *handlers) respondErr(c fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No such path.\n")
	}
	h.logger.WithFields(logging.FetchFields("", "", "store_unavailable", err)).Error("store gateway call failed")
	return c.Status(fiber.StatusInternalServerError).SendString("Internal error.\n")
}

func (h *handlers) composeNarinfo(info store.PathInfo) *narinfo.Record {
	hashPart := leaf(info.StorePath, h.storeDir)[:32]
	narHashPart := strings.TrimPrefix(info.NarHash, "sha256:")

	rec := &narinfo.Record{
		StorePath:   info.StorePath,
		URL:         fmt.Sprintf("nar/%s-%s.nar", hashPart, narHashPart),
		Compression: "none",
		NarHash:     info.NarHash,
		NarSize:     info.NarSize,
	}
	for _, ref := range info.References {
		rec.References = append(rec.References, leaf(ref, h.storeDir))
	}
	if info.Deriver != "" {
		rec.Deriver = leaf(info.Deriver, h.storeDir)
	}

	if h.signer != nil {
		fp := signer.Fingerprint(info.StorePath, info.NarHash, info.NarSize, info.References)
		rec.Sig = []string{h.signer.Sign(fp)}
	} else {
		rec.Sig = info.Sigs
	}

	return rec
}

func leaf(storePath, storeDir string) string {
	return strings.TrimPrefix(storePath, storeDir+"/")
}

// splitNarName splits "{hashpart}-{narhash}" into its parts; a bare
// hashpart with no "-{narhash}" suffix (the legacy /nar/{hashpart}.nar
// route) reports hasHash == false.
func splitNarName(trimmed string) (hashPart, narHash string, hasHash bool) {
	if len(trimmed) > 33 && trimmed[32] == '-' {
		return trimmed[:32], trimmed[33:], true
	}
	return trimmed, "", false
}

func notFound(c fiber.Ctx, body string) error {
	c.Set(fiber.HeaderContentType, "text/plain")
	return c.Status(fiber.StatusNotFound).SendString(body)
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
