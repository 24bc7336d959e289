package cloudapi_test

import (
	"testing"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *cloudapi.Config
		wantErr error
	}{
		{name: "nil", config: nil, wantErr: cloudapi.ErrConfigRequired},
		{name: "blank endpoint", config: &cloudapi.Config{Endpoint: "  "}, wantErr: cloudapi.ErrEndpointRequired},
		{name: "bad scheme", config: &cloudapi.Config{Endpoint: "ftp://example.com"}, wantErr: cloudapi.ErrInvalidEndpointScheme},
		{name: "unparsable", config: &cloudapi.Config{Endpoint: "http://[::1"}, wantErr: cloudapi.ErrInvalidEndpointScheme},
		{
			name:    "blank credential",
			config:  &cloudapi.Config{Endpoint: "https://api.example.com", Credentials: map[string]string{"key": " "}},
			wantErr: cloudapi.ErrEmptyCredential,
		},
		{
			name:   "valid",
			config: &cloudapi.Config{Endpoint: "http://localhost:8080/v1", Credentials: map[string]string{"key": "k"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	endpoint, err := cloudapi.ParseEndpoint("https://api.example.com:8443/v1?Version=1")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com:8443", endpoint.Host)
	assert.Equal(t, "/v1", endpoint.Path)
	assert.Equal(t, "Version=1", endpoint.RawQuery)
}
