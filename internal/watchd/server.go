package watchd

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/kart-io/policy-watcher/internal/watchd/handler"
	"github.com/kart-io/policy-watcher/internal/watchd/router"
	"github.com/kart-io/policy-watcher/pkg/component/database"
	"github.com/kart-io/policy-watcher/pkg/infra/middleware"
	"github.com/kart-io/policy-watcher/pkg/infra/pool"
	"github.com/kart-io/policy-watcher/pkg/infra/tracing"
	"github.com/kart-io/policy-watcher/pkg/security/authz/casbin"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// Server is the assembled policy-watcher: policy engine, installed watcher
// and HTTP API.
type Server struct {
	opts     *Options
	db       *gorm.DB
	svc      *casbin.Service
	watcher  *installed
	registry *prometheus.Registry
	tracer   *tracing.Provider
	engine   *gin.Engine
	http     *http.Server
}

// NewServer opens the policy store, installs the configured watcher and
// builds the HTTP API. The logger and pools must already be initialized.
func NewServer(ctx context.Context, opts *Options) (*Server, error) {
	tp, err := tracing.NewProvider(ctx, opts.Tracing)
	if err != nil {
		return nil, errors.ErrConfig.WithMessage("failed to initialize tracing").WithCause(err)
	}
	if tp.Enabled() {
		logger.Infow("Tracing enabled",
			"component", component,
			"exporter", opts.Tracing.Exporter,
			"endpoint", opts.Tracing.Endpoint,
		)
	}

	db, err := database.Open(ctx, opts.Database)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	svc, err := casbin.NewServiceWithGorm(db, opts.Database.Model, casbin.WithCacheSize(opts.Database.CacheSize))
	if err != nil {
		_ = database.Close(db)
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	logger.Info("Policy engine initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	w, err := buildWatcher(ctx, opts, svc.PeerHandler(), reg)
	if err != nil {
		_ = database.Close(db)
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	svc.SetWatcher(w)

	gin.SetMode(opts.HTTP.Mode)
	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing("/healthz", "/metrics"),
		middleware.Logger("/healthz", "/metrics"),
	)
	router.Register(engine, handler.NewPolicyHandler(svc), reg)

	return &Server{
		opts:     opts,
		db:       db,
		svc:      svc,
		watcher:  w,
		registry: reg,
		tracer:   tp,
		engine:   engine,
		http: &http.Server{
			Addr:         opts.HTTP.Addr,
			Handler:      engine,
			ReadTimeout:  opts.HTTP.ReadTimeout,
			WriteTimeout: opts.HTTP.WriteTimeout,
			IdleTimeout:  opts.HTTP.IdleTimeout,
		},
	}, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Service returns the policy engine.
func (s *Server) Service() *casbin.Service {
	return s.svc
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.ErrNetwork.WithMessagef("failed to listen on %s", s.http.Addr).WithCause(err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Errorw("HTTP server stopped unexpectedly",
				"component", component,
				"error", err.Error(),
			)
		}
	}()

	logger.Infow("HTTP server started", "component", component, "addr", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP server down, then releases the watcher and the
// database, and finally flushes pending spans.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("HTTP server stopped")

	s.svc.SetWatcher(nil)
	if err := s.watcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, err)
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	pool.ReleaseGlobal()

	return stderrors.Join(errs...)
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HTTP.ShutdownTimeout)
	defer cancel()
	return s.Stop(ctx)
}
