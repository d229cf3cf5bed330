/*
server.go - HTTP server and routing

PURPOSE:
  Wires the case services, treasury, blob store and authenticator into a
  chi router. Every /api route except /api/login runs behind the token
  middleware, which resolves the verified actor before any handler sees
  the request.

ROUTES:
  POST /api/login                                  demo token issuer
  GET  /metrics                                    prometheus
  POST /api/files                                  upload, returns a ref
  GET  /api/files/*                                download by ref
  POST /api/treasury/credit                        fund a pool
  GET  /api/treasury/balance                       pool balance
  POST /api/{type}/cases                           submit (idempotent)
  GET  /api/{type}/cases                           list within scope
  GET  /api/{type}/cases/{id}                      read
  GET  /api/{type}/cases/{id}/timeline             events, ascending
  POST /api/{type}/cases/{id}/approve              transition
  POST /api/{type}/cases/{id}/reject               transition
  POST /api/{type}/cases/{id}/request-correction   transition
  POST /api/{type}/cases/{id}/resubmit             applicant only
  POST /api/{type}/cases/{id}/disburse             transition
  POST /api/{type}/cases/{id}/record-decision      transition

  {type} is "atrocity" or "marriage".
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openpcr/caseflow/atrocity"
	"github.com/openpcr/caseflow/auth"
	"github.com/openpcr/caseflow/blob"
	"github.com/openpcr/caseflow/marriage"
	"github.com/openpcr/caseflow/treasury"
	"github.com/openpcr/caseflow/workflow"
)

// Config carries the server's collaborators.
type Config struct {
	Atrocity *atrocity.Service
	Marriage *marriage.Service
	Treasury *treasury.Ledger
	Blobs    blob.Store
	Auth     *auth.JWT
	Logger   zerolog.Logger
	Registry *prometheus.Registry
}

// Server is the HTTP front of the engine.
type Server struct {
	atrocity *atrocity.Service
	marriage *marriage.Service
	treasury *treasury.Ledger
	blobs    blob.Store
	auth     *auth.JWT
	log      zerolog.Logger
	metrics  *metrics
	router   chi.Router
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		atrocity: cfg.Atrocity,
		marriage: cfg.Marriage,
		treasury: cfg.Treasury,
		blobs:    cfg.Blobs,
		auth:     cfg.Auth,
		log:      cfg.Logger,
		metrics:  newMetrics(reg),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Method("GET", "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/files", s.handleFileUpload)
			r.Get("/files/*", s.handleFileDownload)

			r.Post("/treasury/credit", s.handleTreasuryCredit)
			r.Get("/treasury/balance", s.handleTreasuryBalance)

			r.Route("/{type}/cases", func(r chi.Router) {
				r.Post("/", s.handleSubmit)
				r.Get("/", s.handleList)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCase)
					r.Get("/timeline", s.handleTimeline)
					r.Post("/approve", s.handleApprove)
					r.Post("/reject", s.handleReject)
					r.Post("/request-correction", s.handleRequestCorrection)
					r.Post("/resubmit", s.handleResubmit)
					r.Post("/disburse", s.handleDisburse)
					r.Post("/record-decision", s.handleRecordDecision)
				})
			})
		})
	})

	s.router = r
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// engineFor resolves the {type} route segment.
func (s *Server) engineFor(caseType string) (*workflow.Engine, bool) {
	switch caseType {
	case "atrocity":
		return s.atrocity.Engine(), true
	case "marriage":
		return s.marriage.Engine(), true
	default:
		return nil, false
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey int

const actorKey ctxKey = 1

// authenticate resolves the bearer token into a verified actor. The engine
// never sees role or jurisdiction from anywhere else.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, r, workflow.ErrUnauthenticated)
			return
		}
		actor, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(r *http.Request) workflow.Actor {
	actor, _ := r.Context().Value(actorKey).(workflow.Actor)
	return actor
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
