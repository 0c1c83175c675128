// Package auth resolves provider credentials into normalized tokens that
// vendor adapters can present.
package auth

import (
	"context"
	"os"
	"strings"

	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// Auth methods.
const (
	MethodNone   = "none"
	MethodAPIKey = "api-key"
	MethodEnv    = "env"
	MethodBearer = "bearer"
)

// Resolver turns an auth configuration into a credential.
type Resolver struct {
	lookupEnv func(string) (string, bool)
}

// NewResolver creates a resolver that reads the process environment.
func NewResolver() *Resolver {
	return &Resolver{lookupEnv: os.LookupEnv}
}

// NewResolverWithEnv creates a resolver backed by a custom environment lookup.
func NewResolverWithEnv(lookup func(string) (string, bool)) *Resolver {
	return &Resolver{lookupEnv: lookup}
}

// Resolve returns the credential for a. Method "none" returns nil with no
// error; callers decide whether a missing credential is acceptable.
func (r *Resolver) Resolve(_ context.Context, a config.AuthConfig) (*balance.Credential, error) {
	method := strings.ToLower(strings.TrimSpace(a.Method))
	if method == "" {
		method = MethodAPIKey
		if a.APIKey == "" && a.APIKeyEnv != "" {
			method = MethodEnv
		}
		if a.APIKey == "" && a.APIKeyEnv == "" {
			method = MethodNone
		}
	}

	switch method {
	case MethodNone:
		return nil, nil //nolint:nilnil // no credential is a valid outcome
	case MethodAPIKey, MethodBearer:
		value := r.expand(a.APIKey)
		if value == "" {
			return nil, missing(method, "api_key is empty")
		}
		kind := balance.CredentialAPIKey
		if method == MethodBearer {
			kind = balance.CredentialBearer
		}
		return &balance.Credential{Kind: kind, Value: value}, nil
	case MethodEnv:
		if a.APIKeyEnv == "" {
			return nil, missing(method, "api_key_env is empty")
		}
		value, ok := r.lookupEnv(a.APIKeyEnv)
		if !ok || strings.TrimSpace(value) == "" {
			return nil, bwerr.WithSuggestion(
				missing(method, a.APIKeyEnv+" is not set"),
				"export "+a.APIKeyEnv+" before starting balancewatch",
			)
		}
		return &balance.Credential{Kind: balance.CredentialAPIKey, Value: strings.TrimSpace(value)}, nil
	default:
		return nil, bwerr.WithDetails(bwerr.ErrAuthentication, map[string]string{"method": method, "reason": "unsupported auth method"})
	}
}

// expand substitutes ${VAR} references in s.
func (r *Resolver) expand(s string) string {
	return strings.TrimSpace(os.Expand(s, func(name string) string {
		v, _ := r.lookupEnv(name)
		return v
	}))
}

func missing(method, reason string) error {
	return bwerr.WithDetails(bwerr.ErrAuthentication, map[string]string{"method": method, "reason": reason})
}
