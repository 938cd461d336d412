package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/khattlab/khatt/client"
	"github.com/khattlab/khatt/internal/config"
	"github.com/khattlab/khatt/internal/generator"
	"github.com/khattlab/khatt/internal/website"
	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/health"
	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/metrics"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/router"
	"github.com/khattlab/khatt/pkg/shutdown"
	"github.com/khattlab/khatt/pkg/uploads"
)

// Paths served next to the live page.
const (
	StaticPrefix = "/static/"
	UploadPath   = "/upload/background"
	HealthPath   = "/healthz"
	ReadyPath    = "/readyz"
	MetricsPath  = "/metrics"
)

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live calligraphy editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.Config.Server.Addr = addr
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// server is the assembled HTTP surface.
type server struct {
	handler http.Handler
	live    *router.Router
	loader  *fonts.Loader
	sink    analytics.Sink
	metrics *metrics.Metrics
	checker *health.Checker
}

// newServer wires the live route, client assets, uploads and probes.
func newServer(ctx context.Context, cfg config.Config, logger logging.Logger) (*server, error) {
	sink, ping, err := newSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	m := metrics.New(appName)
	events := analytics.Multi{sink, m}

	reg := cfg.FontRegistry()
	loader := fonts.NewLoader(reg, cfg.Fonts.Dir, logger)

	live := router.New(
		router.WithLogger(logger),
		router.WithTimeouts(cfg.Timeouts()),
		router.WithTransportConfig(cfg.Transport()),
		router.WithWebSocketConfig(cfg.WebSocket()),
		router.WithSessionConfig(router.SessionConfig{MaxSessions: cfg.Server.MaxSessions}),
	)
	page := website.DefaultPageConfig()
	page.ScriptPath = client.ScriptURL(StaticPrefix)
	page.UploadPath = UploadPath
	live.Live("/", generator.NewFactory(generator.Deps{
		Fonts:            loader,
		Sink:             events,
		Logger:           logger,
		SingleFlight:     cfg.Render.SingleFlight,
		DevicePixelRatio: cfg.Render.DevicePixelRatio,
		MaxPixels:        cfg.Render.MaxPixels,
		ExportTimeout:    cfg.Render.ExportTimeout.Duration,
	}), router.WithLayout(website.Layout(page, reg.List(), preview.Patterns())))

	upload := uploads.NewUploadHandler(cfg.Upload(), logger).
		OnSuccess(func(e *uploads.UploadEntry) {
			events.Record(analytics.EventUpload, analytics.Props{
				"content_type": e.ContentType,
				"bytes":        e.Size,
				"width":        e.Width,
				"height":       e.Height,
			})
		})

	m.Gauge("sessions", "Open live sessions.", live.Sessions().Count)

	checker := health.NewChecker(version)
	checker.AddCriticalCheck("fallback_font", health.FallbackFontCheck(loader), time.Second)
	checker.AddCheck("default_font", health.DefaultFontCheck(loader, cfg.Fonts.Default), 5*time.Second)
	checker.AddCheck("sessions", health.CapacityCheck(live.Sessions().Count, cfg.Server.MaxSessions), time.Second)
	if ping != nil {
		checker.AddCheck("analytics", health.PingCheck(ping), 2*time.Second)
	}

	mux := chi.NewRouter()
	mux.Use(router.RequestID())
	mux.Use(router.Recovery(logger))
	mux.Use(logging.RequestLogger(logger))
	mux.Use(router.SecureHeaders())

	mux.Get(HealthPath, checker.LivenessHandler().ServeHTTP)
	mux.Get(ReadyPath, checker.ReadinessHandler().ServeHTTP)
	mux.Get(MetricsPath, m.Handler().ServeHTTP)
	mux.Handle(StaticPrefix+"*", http.StripPrefix(StaticPrefix, client.Handler()))
	if cfg.Server.UploadRateLimit > 0 {
		mux.With(router.RateLimit(cfg.Server.UploadRateLimit)).Handle(UploadPath, upload)
	} else {
		mux.Handle(UploadPath, upload)
	}
	mux.Handle("/", live)

	return &server{
		handler: mux,
		live:    live,
		loader:  loader,
		sink:    sink,
		metrics: m,
		checker: checker,
	}, nil
}

// newSink builds the configured analytics sink. Network sinks are wrapped
// in an async queue; ping is set for sinks with a connection to probe.
func newSink(ctx context.Context, cfg config.Config, logger logging.Logger) (analytics.Sink, func(context.Context) error, error) {
	switch cfg.Analytics.Sink {
	case "none":
		return analytics.Nop{}, nil, nil
	case "redis":
		rs, err := analytics.NewRedisSink(ctx, cfg.Redis(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("analytics: %w", err)
		}
		return analytics.NewAsync(rs, cfg.Analytics.BufferSize, logger), rs.Ping, nil
	default:
		return analytics.NewAsync(analytics.NewLogSink(logger), cfg.Analytics.BufferSize, logger), nil, nil
	}
}

func (c *CLI) serve(ctx context.Context) error {
	cfg := c.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := newServer(ctx, cfg, c.Logger)
	if err != nil {
		return err
	}

	// Warm the default font so the first page does not wait for it.
	if f, ok := srv.loader.Registry().Lookup(cfg.Fonts.Default); ok {
		go srv.loader.LoadFont(ctx, f.Family)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sd := shutdown.NewHandler(cfg.Server.ShutdownTimeout.Duration, c.Logger)
	sd.RegisterFunc("http", shutdown.PriorityHTTP, httpSrv.Shutdown)
	sd.RegisterFunc("sessions", shutdown.PrioritySessions, srv.live.Shutdown)
	if closer, ok := srv.sink.(io.Closer); ok {
		sd.RegisterCloser("analytics", shutdown.PrioritySinks, closer)
	}

	srv.live.StartCleanup()

	errc := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	c.printTitle("khatt " + version)
	c.printKeyValue("address", cfg.Server.Addr)
	c.printKeyValue("fonts", cfg.Fonts.Dir+" ("+strconv.Itoa(len(srv.loader.Registry().List()))+" registered)")
	c.printKeyValue("analytics", cfg.Analytics.Sink)
	c.Logger.Info("server started", logging.String("addr", cfg.Server.Addr))

	select {
	case err := <-errc:
		_ = sd.Shutdown()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	if err := sd.Wait(ctx); err != nil {
		c.printError("shutdown: %v", err)
		return err
	}
	c.printSuccess("stopped")
	return nil
}
