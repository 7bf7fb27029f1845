// Package api exposes the guardrail over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/bulwark-ai/bulwark/pkg/audit"
	"github.com/bulwark-ai/bulwark/pkg/config"
	"github.com/bulwark-ai/bulwark/pkg/guard"
)

// Server wires the control tower into HTTP routes.
type Server struct {
	app   *fiber.App
	tower *guard.ControlTower
	audit *audit.Store
	log   *zap.Logger
}

// NewServer builds the app and registers routes. auditStore may be
// nil when the audit trail is disabled.
func NewServer(tower *guard.ControlTower, auditStore *audit.Store, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "bulwark",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	s := &Server{app: app, tower: tower, audit: auditStore, log: log}

	app.Use(s.requestLogger)

	v1 := app.Group("/v1")
	v1.Post("/detect", s.handleDetect)
	v1.Get("/stats", s.handleStats)
	v1.Post("/stats/reset", s.handleStatsReset)
	v1.Get("/health", s.handleHealth)
	v1.Get("/admin/policy", s.handlePolicyGet)
	v1.Put("/admin/policy", s.handlePolicyPut)
	if auditStore != nil {
		v1.Get("/audit/summary", s.handleAuditSummary)
	}

	return s
}

func (s *Server) requestLogger(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)))
	return err
}

type detectRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

type detectResponse struct {
	Action  guard.Action  `json:"action"`
	Verdict guard.Verdict `json:"verdict"`
}

func (s *Server) handleDetect(c fiber.Ctx) error {
	var req detectRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	verdict, action, err := s.tower.Evaluate(c.Context(), guard.DetectionRequest{
		Text:    req.Text,
		Context: req.Context,
	})
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(detectResponse{Action: action, Verdict: verdict})
}

func (s *Server) handleStats(c fiber.Ctx) error {
	return c.JSON(s.tower.Stats())
}

func (s *Server) handleStatsReset(c fiber.Ctx) error {
	s.tower.ResetStats()
	return c.JSON(fiber.Map{"status": "reset"})
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	h := s.tower.Health()
	status := fiber.StatusOK
	if !h.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(h)
}

func (s *Server) handlePolicyGet(c fiber.Ctx) error {
	return c.JSON(s.tower.Policy())
}

// handlePolicyPut swaps the active policy. The body is policy YAML,
// validated before the swap; in-flight requests keep the snapshot
// they started with.
func (s *Server) handlePolicyPut(c fiber.Ctx) error {
	policy, err := config.ParsePolicy(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := s.tower.SetPolicy(policy); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.log.Info("policy updated", zap.String("version", policy.Version))
	return c.JSON(fiber.Map{"status": "updated", "version": policy.Version})
}

func (s *Server) handleAuditSummary(c fiber.Ctx) error {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be RFC3339",
			})
		}
		since = parsed
	}

	sum, err := s.audit.Summarize(c.Context(), since)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(sum)
}

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
