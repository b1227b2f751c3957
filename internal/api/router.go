// Package api exposes the detection service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"agridetect/internal/auth"
	"agridetect/internal/config"
	"agridetect/internal/detection"
	"agridetect/internal/models"
)

const Version = "1.0.0"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Analytics interface {
	Stats(ctx context.Context, since time.Time, topN int) (*models.Stats, error)
	MapPoints(ctx context.Context, limit int) ([]models.MapPoint, error)
}

type DiseaseCatalog interface {
	List(ctx context.Context) ([]models.Disease, error)
	Get(ctx context.Context, name string) (*models.Disease, error)
	Upsert(ctx context.Context, d *models.Disease) error
}

type Deps struct {
	Config     config.Config
	Auth       *auth.Service
	Detections *detection.Service
	Analytics  Analytics
	Diseases   DiseaseCatalog
	DB         Pinger
	Inference  string
	Metrics    *Metrics
	Logger     *zap.Logger
}

type Server struct {
	cfg        config.Config
	auth       *auth.Service
	detections *detection.Service
	analytics  Analytics
	diseases   DiseaseCatalog
	db         Pinger
	inference  string
	metrics    *Metrics
	limiter    *uploadLimiter
	logger     *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	return &Server{
		cfg:        d.Config,
		auth:       d.Auth,
		detections: d.Detections,
		analytics:  d.Analytics,
		diseases:   d.Diseases,
		db:         d.DB,
		inference:  d.Inference,
		metrics:    d.Metrics,
		limiter:    newUploadLimiter(d.Config.Server.UploadsPerMin, d.Config.Server.UploadBurst),
		logger:     d.Logger,
	}
}

// Router builds the full handler tree.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger, s.recoverer, s.cors)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: http.StatusNotFound})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: http.StatusMethodNotAllowed})
	})

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(s.cfg.APIPrefix).Subrouter()
	api.Use(s.bodyLimit)
	// preflight requests never reach a route handler
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.auth.Middleware)
	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	authed.Handle("/detection/predict", s.rateLimit(http.HandlerFunc(s.handlePredict))).Methods(http.MethodPost)
	authed.HandleFunc("/detection/history", s.handleHistory).Methods(http.MethodGet)
	authed.HandleFunc("/detection/{id}", s.handleGetDetection).Methods(http.MethodGet)
	authed.HandleFunc("/detection/{id}", s.handleDeleteDetection).Methods(http.MethodDelete)
	authed.HandleFunc("/detection/{id}/narration", s.handleNarration).Methods(http.MethodGet)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/map", s.handleMap).Methods(http.MethodGet)
	admin.HandleFunc("/diseases", s.handleListDiseases).Methods(http.MethodGet)
	admin.HandleFunc("/diseases/{name}", s.handleUpsertDisease).Methods(http.MethodPut)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, map[string]string{
		"message": s.cfg.ProjectName + " API is operational",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	dbState := "ok"
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("health check: database unavailable", zap.Error(err))
			status, code, dbState = "degraded", http.StatusServiceUnavailable, "unavailable"
		}
	}
	s.respond(w, r, code, map[string]string{
		"status":    status,
		"database":  dbState,
		"inference": s.inference,
		"version":   Version,
	})
}
