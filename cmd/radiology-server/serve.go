package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/domain/mrrt"
	"github.com/ehr/radiology/internal/domain/study"
	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/auth"
	"github.com/ehr/radiology/internal/platform/db"
	"github.com/ehr/radiology/internal/platform/middleware"
	"github.com/ehr/radiology/internal/platform/plugin"
	"github.com/ehr/radiology/internal/platform/telemetry"
)

const version = "0.1.0"

func runServer() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info().Str("schema", a.cfg.DBSchema).Msg("connected to database")

	a.settings.Watch(logger)

	e := newEcho(a)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runOrphanSweeper(sweepCtx, a.templates, a.metrics, a.cfg.OrphanSweepGrace, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", a.cfg.TLSEnabled).Msg("starting server")
		var err error
		if a.cfg.TLSEnabled {
			err = e.StartTLS(addr, a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.BodyLimit("6M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks stay outside authentication.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool,
		func() *db.PoolStats { return db.GetPoolStats(a.pool) },
		map[string]db.Check{
			"template_dir": func(context.Context) error {
				_, err := a.files.Root()
				return err
			},
		}))

	e.GET("/metrics", a.metrics.Handler())

	jwtCfg := auth.JWTConfig{
		Issuer:   a.cfg.AuthIssuer,
		Audience: a.cfg.AuthAudience,
		JWKSURL:  a.cfg.AuthJWKSURL,
	}
	if a.cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(a.cfg.AuthSigningKey)
	}

	apiV1 := e.Group("/api/v1")
	if a.cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.Audit(a.logger))
	apiV1.Use(db.ConnMiddleware(a.pool, a.cfg.DBSchema))

	modules := newModules(a.terms, a.templates, a.studies)
	modules.RegisterRoutes(apiV1)
	a.logger.Info().Strs("modules", modules.Names()).Msg("routes registered")
	return e
}

func newModules(terms *terminology.Service, templates *mrrt.Service, studies *study.Service) *plugin.Registry {
	return plugin.NewRegistry().MustRegister(
		terminology.NewHandler(terms),
		mrrt.NewHandler(templates),
		study.NewHandler(studies),
	)
}

// runOrphanSweeper removes unreferenced template files once per grace
// period until ctx is cancelled. A zero grace disables it.
func runOrphanSweeper(ctx context.Context, svc *mrrt.Service, metrics *telemetry.Metrics, grace time.Duration, logger zerolog.Logger) {
	if grace <= 0 {
		return
	}
	ticker := time.NewTicker(grace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := svc.SweepOrphanFiles(ctx, grace)
			if err != nil {
				metrics.AddOperation("mrrt-templates", "sweep", "failed", 1)
				logger.Error().Err(err).Msg("orphan sweep failed")
				continue
			}
			metrics.AddOperation("mrrt-templates", "sweep", "removed", uint64(len(removed)))
			if len(removed) > 0 {
				logger.Info().Int("removed", len(removed)).Msg("orphan sweep finished")
			}
		}
	}
}
