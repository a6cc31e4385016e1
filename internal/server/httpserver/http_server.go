// Package httpserver assembles the nbrunner HTTP API.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/nbrunner/internal/metrics"
	"git.home.luguber.info/inful/nbrunner/internal/server/handlers"
	smw "git.home.luguber.info/inful/nbrunner/internal/server/middleware"
)

const (
	defaultStaticDir  = "./static"
	readHeaderTimeout = 10 * time.Second
)

// Server serves the nbrunner API and pages on one port.
type Server struct {
	httpServer   *http.Server
	opts         Options
	router       chi.Router
	errorAdapter *ferrors.HTTPErrorAdapter
	addr         net.Addr

	// Handler modules
	configHandlers    *handlers.ConfigHandlers
	notebookHandlers  *handlers.NotebookHandlers
	webhookHandlers   *handlers.WebhookHandlers
	statusHandlers    *handlers.StatusHandlers
	pageHandlers      *handlers.PageHandlers
	runHandlers       *handlers.RunHandlers
	dashboardHandlers *handlers.DashboardHandlers
}

// New constructs the server and its routes.
func New(opts Options) *Server {
	if opts.StaticDir == "" {
		opts.StaticDir = defaultStaticDir
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}

	s := &Server{
		opts:         opts,
		errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}

	s.configHandlers = handlers.NewConfigHandlers(opts.Config)
	s.notebookHandlers = handlers.NewNotebookHandlers(opts.Runner, opts.Config)
	s.webhookHandlers = handlers.NewWebhookHandlers(opts.Puller, opts.Config, opts.Tokens)
	s.statusHandlers = handlers.NewStatusHandlers(opts.Config, opts.Runner, opts.Backend, opts.Env)
	s.pageHandlers = handlers.NewPageHandlers(opts.StaticDir)
	if opts.Runs != nil {
		s.runHandlers = handlers.NewRunHandlers(opts.Runs)
	}
	if opts.Dashboard != nil {
		s.dashboardHandlers = handlers.NewDashboardHandlers(opts.Dashboard)
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(smw.Chain(slog.Default(), s.errorAdapter))
	r.Use(smw.Metrics(s.opts.Recorder))

	guard := smw.TokenGuard(s.opts.UIAccessToken, s.errorAdapter)

	r.Get("/", s.pageHandlers.HandleHome)
	r.Get("/config", s.pageHandlers.HandleConfigPage)

	r.Get("/get-config", s.configHandlers.HandleGetConfig)
	r.With(guard).Post("/save-config", s.configHandlers.HandleSaveConfig)
	r.With(guard).Post("/run-notebook", s.notebookHandlers.HandleRunNotebook)
	r.Get("/list-notebook-steps", s.notebookHandlers.HandleListSteps)
	r.Post("/webhook", s.webhookHandlers.HandleWebhook)
	r.Get("/status", s.statusHandlers.HandleStatus)
	r.Get("/health", s.statusHandlers.HandleHealth)

	if s.runHandlers != nil {
		r.Get("/runs", s.runHandlers.HandleList)
		r.Get("/runs/{id}", s.runHandlers.HandleGet)
		r.Get("/runs/{id}/report", s.runHandlers.HandleReport)
	}
	if s.dashboardHandlers != nil {
		r.Get("/api/states", s.dashboardHandlers.HandleStates)
		r.Get("/api/counties", s.dashboardHandlers.HandleCounties)
		r.Get("/api/zips", s.dashboardHandlers.HandleZips)
		r.Get("/api/filter", s.dashboardHandlers.HandleFilter)
		r.Get("/api/county_density", s.dashboardHandlers.HandleCountyDensity)
		r.Get("/download/county_density.csv", s.dashboardHandlers.HandleDownloadDensity)
	}
	if s.opts.PrometheusHandler != nil {
		r.Handle("/metrics", s.opts.PrometheusHandler)
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr { return s.addr }

// Start binds the port and serves in the background. A bind failure is returned
// immediately.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("http startup failed: port %d: %w", s.opts.Port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	slog.Info("HTTP server started", slog.String("addr", s.addr.String()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
