// Package api serves on-demand effect-size conversion, pooling and
// reliability statistics over HTTP, plus read access to stored consensus
// records, the final dataset and QA reports.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
	"github.com/sells-group/metaextract/internal/store"
)

// Reader is the read side of the pipeline store. Missing records and reports
// are (nil, nil).
type Reader interface {
	GetConsensus(ctx context.Context, studyID string) (*model.ConsensusRecord, error)
	ListConsensus(ctx context.Context, filter store.ListFilter) ([]*model.ConsensusRecord, error)
	LoadDataset(ctx context.Context) ([]model.FinalDatasetRow, error)
	LatestQAReport(ctx context.Context) (*qa.Report, error)
}

// Server routes API requests.
type Server struct {
	calc     *effectsize.Calculator
	limits   effectsize.Limits
	records  Reader
	validate *validator.Validate
	origins  []string
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLimits sets the plausibility limits used for conversion and row
// validation.
func WithLimits(l effectsize.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New creates a Server. records may be nil, in which case store lookups
// answer 503.
func New(records Reader, opts ...Option) *Server {
	s := &Server{
		limits:   effectsize.DefaultLimits(),
		records:  records,
		validate: model.NewValidator(),
		origins:  []string{"*"},
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.calc = effectsize.NewCalculator(s.limits)
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/effect-size", s.handleEffectSize)
		r.Post("/effect-size/validate", s.handleValidateRow)
		r.Post("/meta-analysis", s.handleMetaAnalysis)
		r.Post("/reliability/kappa", s.handleKappa)
		r.Post("/reliability/icc", s.handleICC)
		r.Get("/consensus", s.handleListConsensus)
		r.Get("/consensus/{studyID}", s.handleGetConsensus)
		r.Get("/dataset", s.handleGetDataset)
		r.Get("/qa/latest", s.handleLatestQAReport)
	})
	return r
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, errorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
