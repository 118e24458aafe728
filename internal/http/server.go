package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imanojprajapati/visitrack-v3-sub002/internal/auth"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/identity"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/logging"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/media"
	"github.com/imanojprajapati/visitrack-v3-sub002/internal/session"
)

const (
	badgeTemplatesFolder = "badge-templates"
	serverErrorCode      = "SERVER_ERROR"
)

type TokenCodec interface {
	Issue(identity auth.Identity) (auth.Pair, error)
	Parse(value string, kind auth.Kind) (*auth.Claims, error)
}

type AssetStore interface {
	Upload(ctx context.Context, req media.UploadRequest) (media.Reference, error)
	DeleteResource(ctx context.Context, resourceType, publicID string) (media.DeleteResult, error)
}

type Options struct {
	DefaultFolder  string
	MaxUploadBytes int64
	Now            func() time.Time
}

type Server struct {
	verifier    identity.Verifier
	codec       TokenCodec
	cookies     *session.CookieStore
	revocations session.RevocationList
	assets      AssetStore
	logger      logging.Logger
	opts        Options
}

func NewServer(
	verifier identity.Verifier,
	codec TokenCodec,
	cookies *session.CookieStore,
	revocations session.RevocationList,
	assets AssetStore,
	logger logging.Logger,
	opts Options,
) *Server {
	if revocations == nil {
		revocations = session.NewMemoryRevocationList()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.DefaultFolder == "" {
		opts.DefaultFolder = "event-media"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		verifier:    verifier,
		codec:       codec,
		cookies:     cookies,
		revocations: revocations,
		assets:      assets,
		logger:      logger,
		opts:        opts,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Success: false, Message: "Method not allowed"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)
	r.With(s.recoverServerError).Post("/logout", s.handleLogout)

	r.Post("/upload", s.handleUpload)
	r.Post("/badge-templates/upload", s.handleBadgeTemplateUpload)
	r.Post("/assets/delete", s.handleDeleteAsset)

	return r
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// recoverServerError keeps a panic from leaking details: the client gets the
// generic SERVER_ERROR body.
func (s *Server) recoverServerError(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.WithField("panic", rec).Error(r.Context(), "request panicked")
				writeJSON(w, http.StatusInternalServerError, statusResponse{
					Success: false,
					Message: "Internal server error",
					Code:    serverErrorCode,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx := s.logger.WithContext(r.Context(), logging.Fields{
			"requestId": middleware.GetReqID(r.Context()),
		})
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.With(logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(started).Milliseconds(),
		}).Info(ctx, "http request handled")
	})
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
