// Package auth resolves project API keys to the project's decision policy.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/store"
	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// ProjectContext holds the authenticated project's configuration.
type ProjectContext struct {
	ProjectID       string
	Policy          engine.Policy
	RecordDecisions bool
	Config          *engine.PolicyConfig // nil = server defaults
}

// Options derives per-call arbiter options from the project's policy.
// A project without its own config uses the server defaults.
func (p *ProjectContext) Options(serverDefault engine.ThresholdConfig) engine.Options {
	opts := engine.Options{Advisory: p.Config.AdvisoryEnabled()}
	if p.Config != nil {
		t := p.Config.EffectiveThresholds(serverDefault)
		opts.Thresholds = &t
	}
	return opts
}

// Authenticator resolves an API key to its project.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*ProjectContext, error)
}

// ValidKeyFormat reports whether key has the msk_ prefix and enough
// characters for a prefix lookup.
func ValidKeyFormat(key string) bool {
	return len(key) >= store.KeyLookupLength && strings.HasPrefix(key, store.APIKeyPrefix)
}

// ParseBearer extracts the token from an Authorization header value.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	if len(header) <= 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrMissingAPIKey
	}
	token := strings.TrimSpace(header[7:])
	if !ValidKeyFormat(token) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// APIKeyFromRequest reads the Bearer key from an HTTP request.
func APIKeyFromRequest(r *http.Request) (string, error) {
	return ParseBearer(r.Header.Get("Authorization"))
}

// APIKeyFromMetadata reads the Bearer key from incoming gRPC metadata.
func APIKeyFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return ParseBearer(values[0])
}
