package server

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"audimeta/internal/ratelimit"
	"audimeta/internal/util"
	"audimeta/pkg/domain"
	"audimeta/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter throttles callers per client IP. Nil disables throttling.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server exposes the metadata API over HTTP.
type Server struct {
	app            *app.App
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	metrics        http.Handler
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.Handle("GET /books/{asin}", s.limited(s.handleShow(domain.KindBook)))
	s.mux.Handle("DELETE /books/{asin}", s.limited(s.handleDelete(domain.KindBook)))
	s.mux.Handle("GET /books/{asin}/chapters", s.limited(s.handleShow(domain.KindChapter)))
	s.mux.Handle("DELETE /books/{asin}/chapters", s.limited(s.handleDelete(domain.KindChapter)))
	s.mux.Handle("GET /authors", s.limited(http.HandlerFunc(s.handleSearchAuthors)))
	s.mux.Handle("GET /authors/{asin}", s.limited(s.handleShow(domain.KindAuthor)))
	s.mux.Handle("DELETE /authors/{asin}", s.limited(s.handleDelete(domain.KindAuthor)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.app.Health(r.Context())
	code := http.StatusOK
	overall := "ok"
	if !app.Healthy(status) {
		code = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": overall, "checks": status})
}

func (s *Server) handleShow(kind domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts, err := showOptions(r, kind)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		record, err := s.app.Show(r.Context(), kind, r.PathValue("asin"), opts)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.writeRecord(w, r, record)
	})
}

func (s *Server) handleDelete(kind domain.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		asin := r.PathValue("asin")
		removed, err := s.app.Delete(r.Context(), kind, asin, r.URL.Query().Get("region"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if !removed {
			s.writeAppError(w, r, domain.NotFoundf("%s %s not found", kind, asin))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "asin": asin})
	})
}

func (s *Server) handleSearchAuthors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authors, err := s.app.SearchAuthors(r.Context(), strings.TrimSpace(q.Get("name")), q.Get("region"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if authors == nil {
		authors = []domain.Author{}
	}
	s.writeRecord(w, r, authors)
}

// showOptions reads region, update and seedAuthors from the query string.
// Author seeding defaults on for books.
func showOptions(r *http.Request, kind domain.Kind) (app.Options, error) {
	q := r.URL.Query()
	opts := app.Options{Region: q.Get("region"), SeedAuthors: kind == domain.KindBook}
	var err error
	if opts.Update, err = queryBool(q.Get("update"), false); err != nil {
		return opts, domain.BadRequestf("invalid update flag %q", q.Get("update"))
	}
	if opts.SeedAuthors, err = queryBool(q.Get("seedAuthors"), opts.SeedAuthors); err != nil {
		return opts, domain.BadRequestf("invalid seedAuthors flag %q", q.Get("seedAuthors"))
	}
	return opts, nil
}

func queryBool(raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

// limited applies the per-client rate limit. Limiter outages let requests
// through.
func (s *Server) limited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := util.ClientIP(r, s.trustedProxies)
		decision, err := s.limiter.Allow(r.Context(), ip)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "ip", ip, slog.Any("err", err))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "rate limited", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, v any) {
	body, err := s.app.Encode(v)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error(), "not_found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, slog.Any("err", err))
		writeError(w, r, http.StatusInternalServerError, "internal error", "internal")
	}
}
