package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lauramurakaru/mdmp/internal/auth"
	"go.uber.org/zap"
)

type contextKey int

const (
	projectCtxKey contextKey = iota
	requestIDCtxKey
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

const requestIDHeader = "X-Request-ID"

func projectFromContext(ctx context.Context) *auth.ProjectContext {
	v, _ := ctx.Value(projectCtxKey).(*auth.ProjectContext)
	return v
}

// requestIDFromContext returns the id assigned by withRequestID, or a fresh
// one for handlers invoked outside the router.
func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return id
	}
	return uuid.NewString()
}

// withRequestID assigns every request an id. A caller-supplied X-Request-ID
// is kept when it parses as a UUID so decisions can be correlated with the
// orchestrator's own logs.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDCtxKey, id)))
	})
}

// --- Auth ---

// authMiddleware validates Bearer msk_ tokens and puts the project into the
// request context.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := auth.APIKeyFromRequest(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		project, err := d.Auth.Authenticate(r.Context(), key)
		if err != nil {
			d.Logger.Warn("auth failed",
				zap.String("request_id", requestIDFromContext(r.Context())),
				zap.Error(err),
			)
			writeAuthError(w, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), projectCtxKey, project)))
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingAPIKey):
		writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
	case errors.Is(err, auth.ErrAuthUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Authentication backend unavailable"})
	default:
		writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
	}
}

// forgetProject drops cached contexts for a project after an admin edit so
// the next request sees the new mode, policy or key.
func (d *Dependencies) forgetProject(projectID string) {
	if d.AuthCache == nil {
		return
	}
	if n := d.AuthCache.ForgetProject(projectID); n > 0 {
		d.Logger.Debug("auth cache invalidated",
			zap.String("project_id", projectID),
			zap.Int("keys", n),
		)
	}
}

// --- JSON ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

// --- Logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := zap.InfoLevel
		if sw.status >= http.StatusInternalServerError {
			level = zap.WarnLevel
		}
		logger.Log(level, "http request",
			zap.String("request_id", sw.Header().Get(requestIDHeader)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

// corsMiddleware allows the listed origins, or any origin when the list is
// empty. Browser front-ends for study sessions call the API directly.
func corsMiddleware(next http.Handler, origins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
