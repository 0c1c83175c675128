package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/balancewatch/internal/auth"
	"github.com/mrz1836/balancewatch/internal/balance"
	"github.com/mrz1836/balancewatch/internal/config"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := auth.NewResolverWithEnv(fakeEnv(map[string]string{
		"ACME_KEY": "sk-env",
		"BLANK":    "  ",
	}))

	tests := []struct {
		name    string
		cfg     config.AuthConfig
		want    *balance.Credential
		wantErr bool
	}{
		{name: "none", cfg: config.AuthConfig{Method: "none"}},
		{name: "empty config is none", cfg: config.AuthConfig{}},
		{
			name: "literal api key",
			cfg:  config.AuthConfig{Method: "api-key", APIKey: "sk-1"},
			want: &balance.Credential{Kind: balance.CredentialAPIKey, Value: "sk-1"},
		},
		{
			name: "expanded api key",
			cfg:  config.AuthConfig{Method: "api-key", APIKey: "${ACME_KEY}"},
			want: &balance.Credential{Kind: balance.CredentialAPIKey, Value: "sk-env"},
		},
		{
			name: "implicit api key",
			cfg:  config.AuthConfig{APIKey: "sk-2"},
			want: &balance.Credential{Kind: balance.CredentialAPIKey, Value: "sk-2"},
		},
		{
			name: "bearer",
			cfg:  config.AuthConfig{Method: "Bearer", APIKey: "tok"},
			want: &balance.Credential{Kind: balance.CredentialBearer, Value: "tok"},
		},
		{
			name: "env",
			cfg:  config.AuthConfig{Method: "env", APIKeyEnv: "ACME_KEY"},
			want: &balance.Credential{Kind: balance.CredentialAPIKey, Value: "sk-env"},
		},
		{
			name: "implicit env",
			cfg:  config.AuthConfig{APIKeyEnv: "ACME_KEY"},
			want: &balance.Credential{Kind: balance.CredentialAPIKey, Value: "sk-env"},
		},
		{name: "env unset", cfg: config.AuthConfig{Method: "env", APIKeyEnv: "MISSING"}, wantErr: true},
		{name: "env blank", cfg: config.AuthConfig{Method: "env", APIKeyEnv: "BLANK"}, wantErr: true},
		{name: "env name missing", cfg: config.AuthConfig{Method: "env"}, wantErr: true},
		{name: "empty api key", cfg: config.AuthConfig{Method: "api-key", APIKey: "${MISSING}"}, wantErr: true},
		{name: "unknown method", cfg: config.AuthConfig{Method: "oauth"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(context.Background(), tt.cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, bwerr.ErrAuthentication)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_EnvSuggestion(t *testing.T) {
	t.Parallel()

	_, err := auth.NewResolverWithEnv(fakeEnv(nil)).Resolve(context.Background(), config.AuthConfig{Method: "env", APIKeyEnv: "ACME_KEY"})
	require.Error(t, err)

	var be *bwerr.Error
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Suggestion, "ACME_KEY")
}
