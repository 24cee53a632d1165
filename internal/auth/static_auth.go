package auth

import (
	"context"

	"github.com/lauramurakaru/mdmp/internal/engine"
)

// StaticAuthenticator is a development authenticator used when no Postgres
// is configured. With no keys it accepts any well-formed msk_ key; otherwise
// only the listed keys, each mapped to a project ID.
type StaticAuthenticator struct {
	keys   map[string]string
	policy engine.Policy
	record bool
}

// NewStaticAuthenticator creates an authenticator that assigns policy to
// every project it admits.
func NewStaticAuthenticator(keys map[string]string, policy engine.Policy, recordDecisions bool) *StaticAuthenticator {
	return &StaticAuthenticator{keys: keys, policy: policy, record: recordDecisions}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*ProjectContext, error) {
	if !ValidKeyFormat(apiKey) {
		return nil, ErrInvalidAPIKey
	}
	projectID := "static-" + apiKey[:8]
	if len(a.keys) > 0 {
		id, ok := a.keys[apiKey]
		if !ok {
			return nil, ErrInvalidAPIKey
		}
		projectID = id
	}
	return &ProjectContext{
		ProjectID:       projectID,
		Policy:          a.policy,
		RecordDecisions: a.record,
	}, nil
}
