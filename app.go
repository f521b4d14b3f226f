package main

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vishvananda/netlink"

	"github.com/brian14708/awg-warden/access"
	"github.com/brian14708/awg-warden/awg"
	"github.com/brian14708/awg-warden/config"
	"github.com/brian14708/awg-warden/monitor"
	"github.com/brian14708/awg-warden/provision"
	"github.com/brian14708/awg-warden/registry"
	"github.com/brian14708/awg-warden/syncer"
	"github.com/brian14708/awg-warden/traffic"
)

// adminHeader carries the caller's numeric admin ID when the guard is
// enabled.
const adminHeader = "X-Admin-Id"

type apiServer struct {
	cfg   *config.Config
	prov  *provision.Manager
	reg   *registry.Registry
	iface *awg.Interface
	mon   *monitor.Monitor
	guard *access.Guard // nil leaves the API open
	log   *slog.Logger
}

// createResponse is an Artifacts bundle plus the outcome of the sync
// that followed the mutation. synced=false means the registry changed
// but the interface has not caught up yet.
type createResponse struct {
	*provision.Artifacts
	Synced    bool   `json:"synced"`
	SyncError string `json:"sync_error,omitempty"`
}

func (s *apiServer) handlers(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	if s.guard != nil {
		app.Use("/api", s.authorize)
	}

	// interface, registry and host status
	app.Get("/api/status", func(c *fiber.Ctx) error {
		ctx := c.Context()

		clients, err := s.reg.AllClients(ctx, false)
		if err != nil {
			return s.fail(c, err)
		}
		active := 0
		for _, cl := range clients {
			if cl.Active {
				active++
			}
		}
		sessions, err := s.reg.CountActiveSessions(ctx)
		if err != nil {
			return s.fail(c, err)
		}

		status := fiber.Map{
			"interface":       s.cfg.Interface,
			"interface_up":    s.iface.IsUp(ctx),
			"clients":         len(clients),
			"active_clients":  active,
			"active_sessions": sessions,
		}

		if link, err := netlink.LinkByName(s.cfg.Interface); err == nil {
			attrs := link.Attrs()
			status["link"] = fiber.Map{
				"oper_state": attrs.OperState.String(),
				"mtu":        attrs.MTU,
				"index":      attrs.Index,
			}
		}

		if metrics, err := s.mon.Collect(ctx); err == nil {
			status["host"] = metrics
		} else {
			s.log.Warn("host metrics unavailable", "error", err)
		}
		if bootedAt, uptime, err := monitor.Uptime(ctx); err == nil {
			status["booted_at"] = bootedAt
			status["uptime_seconds"] = int64(uptime.Seconds())
		}

		return c.JSON(status)
	})

	// all clients, deactivated included
	app.Get("/api/clients", func(c *fiber.Ctx) error {
		clients, err := s.prov.List(c.Context())
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"clients": clients})
	})

	// create client
	app.Post("/api/clients", func(c *fiber.Ctx) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		artifacts, err := s.prov.Create(c.Context(), req.Name)
		var syncErr *syncer.SyncError
		switch {
		case err == nil:
			return c.Status(fiber.StatusCreated).JSON(createResponse{Artifacts: artifacts, Synced: true})
		case errors.As(err, &syncErr):
			return c.Status(fiber.StatusCreated).JSON(createResponse{
				Artifacts: artifacts,
				SyncError: syncErr.Error(),
			})
		default:
			return s.fail(c, err)
		}
	})

	// delete client
	app.Delete("/api/clients/:name", func(c *fiber.Ctx) error {
		err := s.prov.Delete(c.Context(), c.Params("name"))
		var syncErr *syncer.SyncError
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"deleted": c.Params("name"), "synced": true})
		case errors.As(err, &syncErr):
			return c.JSON(fiber.Map{"deleted": c.Params("name"), "synced": false, "sync_error": syncErr.Error()})
		default:
			return s.fail(c, err)
		}
	})

	// activate or deactivate client
	app.Patch("/api/clients/:name", func(c *fiber.Ctx) error {
		var req struct {
			Active *bool `json:"active"`
		}
		if err := c.BodyParser(&req); err != nil || req.Active == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "body must carry an active flag"})
		}

		err := s.prov.SetActive(c.Context(), c.Params("name"), *req.Active)
		var syncErr *syncer.SyncError
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"name": c.Params("name"), "active": *req.Active, "synced": true})
		case errors.As(err, &syncErr):
			return c.JSON(fiber.Map{"name": c.Params("name"), "active": *req.Active, "synced": false, "sync_error": syncErr.Error()})
		default:
			return s.fail(c, err)
		}
	})

	// tunnel config download
	app.Get("/api/clients/:name/config", func(c *fiber.Ctx) error {
		artifacts, err := s.prov.Artifacts(c.Context(), c.Params("name"))
		if err != nil {
			return s.fail(c, err)
		}
		c.Attachment(c.Params("name") + ".conf")
		return c.SendString(artifacts.Config)
	})

	// regenerate the full hand-out bundle
	app.Get("/api/clients/:name/artifacts", func(c *fiber.Ctx) error {
		artifacts, err := s.prov.Artifacts(c.Context(), c.Params("name"))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(artifacts)
	})

	// lifetime usage per client
	app.Get("/api/traffic/totals", func(c *fiber.Ctx) error {
		totals, err := s.prov.Totals(c.Context())
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"totals": totals})
	})

	// bucketed usage over a trailing window
	app.Get("/api/traffic/series", func(c *fiber.Ctx) error {
		days := c.QueryInt("days", 7)
		if days <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "days must be positive"})
		}
		bucket := traffic.Bucket(c.Query("bucket", string(traffic.BucketDay)))
		if bucket != traffic.BucketHour && bucket != traffic.BucketDay {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bucket must be hour or day"})
		}

		since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		points, err := s.prov.Series(c.Context(), c.Query("client"), since, bucket)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"since": since, "bucket": bucket, "points": points})
	})

	// usage by hour of day
	app.Get("/api/traffic/profile/hourly", func(c *fiber.Ctx) error {
		profile, err := s.prov.HourlyProfile(c.Context(), c.Query("client"))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"profile": profile})
	})

	// usage by day of week
	app.Get("/api/traffic/profile/weekly", func(c *fiber.Ctx) error {
		profile, err := s.prov.WeekdayProfile(c.Context(), c.Query("client"))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"profile": profile})
	})

	// connection history, most recent first
	app.Get("/api/sessions/:name", func(c *fiber.Ctx) error {
		sessions, err := s.prov.Sessions(c.Context(), c.Params("name"), c.QueryInt("limit", 50))
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"name": c.Params("name"), "sessions": sessions})
	})
}

// authorize gates /api behind the admin allow-list and per-admin rate
// limit.
func (s *apiServer) authorize(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Get(adminHeader), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or malformed " + adminHeader + " header"})
	}
	verdict := s.guard.Check(id, time.Now())
	if !verdict.Allowed {
		status := fiber.StatusForbidden
		if verdict.Reason == access.DenyRateLimited {
			status = fiber.StatusTooManyRequests
		}
		s.log.Warn("request denied", "admin_id", id, "reason", verdict.Reason)
		return c.Status(status).JSON(fiber.Map{"error": string(verdict.Reason)})
	}
	return c.Next()
}

// fail maps domain errors to HTTP statuses. Anything unmapped is a 500
// and the detail stays in the log.
func (s *apiServer) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, provision.ErrInvalidName):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, registry.ErrAlreadyExists),
		errors.Is(err, registry.ErrSubnetExhausted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
