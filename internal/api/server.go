package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/forecastbot/internal/delivery"
	"github.com/lox/forecastbot/internal/models"
	"github.com/lox/forecastbot/internal/scheduler"
	"github.com/lox/forecastbot/internal/store"
)

// Charts renders forecast charts.
type Charts interface {
	Render(ctx context.Context, req delivery.Request) (*delivery.Chart, error)
}

// Resolver turns a free-form place argument into a location.
type Resolver interface {
	Resolve(ctx context.Context, arg string) (models.Location, error)
}

// Schedules exposes the running scheduler.
type Schedules interface {
	Jobs() []scheduler.JobInfo
	RunOnce(ctx context.Context, name string) (*delivery.Result, error)
}

// Server is the admin HTTP surface: health, metrics, chart previews and
// location management.
type Server struct {
	store     *store.Store
	charts    Charts
	resolver  Resolver
	schedules Schedules
	cache     *ChartCache
	addr      string
	log       *zap.Logger
}

func NewServer(st *store.Store, charts Charts, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:  st,
		charts: charts,
		cache:  NewChartCache(10 * time.Minute),
		addr:   addr,
		log:    log,
	}
}

// SetResolver enables the place parameter on /chart.png.
func (s *Server) SetResolver(r Resolver) {
	s.resolver = r
}

// SetSchedules enables the schedule endpoints.
func (s *Server) SetSchedules(sc Schedules) {
	s.schedules = sc
}

// SetCacheTTL changes how long preview charts are cached.
func (s *Server) SetCacheTTL(ttl time.Duration) {
	s.cache = NewChartCache(ttl)
}

// InvalidateCharts drops cached previews for an identity whose location was
// changed outside the API.
func (s *Server) InvalidateCharts(domain, owner string) {
	s.cache.Invalidate(domain, owner)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /chart.png", s.handleChart)
	mux.HandleFunc("GET /api/location", s.handleGetLocation)
	mux.HandleFunc("PUT /api/location", s.handlePutLocation)
	mux.HandleFunc("DELETE /api/location", s.handleDeleteLocation)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/payloads", s.handlePayloads)
	mux.HandleFunc("GET /api/schedules", s.handleSchedules)
	mux.HandleFunc("POST /api/schedules/{name}/run", s.handleRunSchedule)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("api: listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
