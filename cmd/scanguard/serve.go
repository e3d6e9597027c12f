package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/oarkflow/scanguard"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gate in front of the upstream application",
		Long: "serve gates every request and forwards allowed traffic to the configured upstream. " +
			"Without an upstream, allowed requests get a small JSON status body.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides config")
	return cmd
}

func runServe(parent context.Context, listen string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger
	if listen != "" {
		cfg.Listen = listen
	}

	metrics := scanguard.NewMetrics()
	senders, err := scanguard.BuildSenders(cfg.Notify, logger)
	if err != nil {
		return err
	}
	notifier := scanguard.NewNotifier(cfg.Notify, senders, logger, metrics)
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notifier_stopped", "error", err)
		}
	}()

	guard := scanguard.NewGuard(cfg, rt.store,
		scanguard.WithLogger(logger),
		scanguard.WithMetrics(metrics),
		scanguard.WithPublisher(notifier),
	)
	operator := scanguard.NewOperator(guard, logger, metrics)

	janitor := scanguard.NewJanitor(guard, cfg.Janitor, logger, metrics)
	janitor.Start(ctx)
	defer janitor.Stop()

	if configPath != "" {
		watcher, err := scanguard.NewConfigWatcher(configPath, guard, logger, nil)
		if err != nil {
			logger.Warn("config_watch_disabled", "path", configPath, "error", err)
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	app := fiber.New(fiber.Config{
		AppName: "scanguard",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	// Registered ahead of the gate: probes and operators must always reach
	// health, metrics and the admin API.
	app.Get("/health", func(c fiber.Ctx) error {
		if err := guard.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	if cfg.Admin.Enabled {
		scanguard.NewAdminAPI(operator, cfg.Admin.TokenHash, logger).Register(app.Group(cfg.Admin.Prefix))
	}
	if cfg.BanNoticePath != "" {
		app.Get(cfg.BanNoticePath, banNoticeHandler(operator))
	}

	app.Use(guard.Middleware())
	app.Use(scanguard.UpstreamHandler(cfg.Upstream))

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("shutdown_failed", "error", err)
		}
	}()

	logger.Info("server_starting",
		"listen", cfg.Listen,
		"store", cfg.Store.Driver,
		"upstream", cfg.Upstream,
		"trust_proxy", cfg.TrustProxy,
		"fail_open", cfg.FailOpen)
	return app.Listen(cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true})
}

// banNoticeHandler renders the page banned clients are redirected to. The
// ban id from the query string is echoed so users can quote it in appeals.
func banNoticeHandler(op *scanguard.Operator) fiber.Handler {
	return func(c fiber.Ctx) error {
		resp := fiber.Map{"error": "Your address has been banned from this service."}
		if id := c.Query("id"); id != "" {
			if rec, err := op.Lookup(c.Context(), id); err == nil {
				resp["ban_id"] = rec.ID
				resp["banned_at"] = rec.BannedAt.Format(time.RFC3339)
				resp["permanent"] = rec.Permanent()
				if rec.ExpiresAt != nil {
					resp["banned_until"] = rec.ExpiresAt.Format(time.RFC3339)
				}
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(resp)
	}
}
