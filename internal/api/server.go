package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/climateapi/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Store is the read-only data access the handlers depend on.
type Store interface {
	Precipitation(ctx context.Context) ([]models.DatePrecipitation, error)
	Stations(ctx context.Context) ([]models.Station, error)
	LastYearTemperatures(ctx context.Context) ([]models.DateTemperature, error)
	DailyTempsSince(ctx context.Context, start string) ([]models.DailyTemps, error)
	RangeTemps(ctx context.Context, start, end string) (*models.RangeTemps, error)
	LatestDate(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	store  Store
	logger *zap.Logger
	opts   Options
	tmpl   *template.Template
}

func NewServer(store Store, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	tmpl := template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))

	return &Server{
		store:  store,
		logger: logger,
		opts:   opts,
		tmpl:   tmpl,
	}
}

// route is one entry of the routing table. Every route is GET only.
type route struct {
	name    string
	path    string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{"home", "/", s.handleHome},
		{"precipitation", "/api/v1.0/precipitation", s.handlePrecipitation},
		{"stations", "/api/v1.0/stations", s.handleStations},
		{"tobs", "/api/v1.0/tobs", s.handleTobs},
		{"temps_since", "/api/v1.0/min_max_avg/{start}", s.handleTempsSince},
		{"temps_range", "/api/v1.0/min_max_avg/{start}/{end}", s.handleTempsRange},
		{"health", "/health", s.handleHealth},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	for _, rt := range s.routes() {
		r.HandleFunc(rt.path, rt.handler).Methods(http.MethodGet).Name(rt.name)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")

	chain := []mux.MiddlewareFunc{
		RequestIDMiddleware(s.logger),
		MetricsMiddleware,
		AccessLogMiddleware,
		RecoverMiddleware,
	}
	r.Use(chain...)

	// mux skips Use middleware when no route matches, so the fallbacks are
	// wrapped in the same chain directly.
	r.NotFoundHandler = wrap(http.HandlerFunc(handleNotFound), chain)
	r.MethodNotAllowedHandler = wrap(http.HandlerFunc(handleMethodNotAllowed), chain)
	return r
}

// wrap applies chain to h with the first middleware outermost, matching the
// order of Router.Use.
func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("server listening", zap.String("addr", s.opts.Addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
