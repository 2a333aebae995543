package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/observesync/internal/config"
	"github.com/classboard/observesync/internal/server"
)

func inMemoryConfig() *config.Config {
	return &config.Config{
		Server: &config.ServerConfig{InMemory: true},
	}
}

func TestNewServerApp_InMemory(t *testing.T) {
	t.Parallel()

	app, err := NewServerApp(context.Background(),
		WithConfig(inMemoryConfig()),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)
	require.NotNil(t, app)
	defer func() { _ = app.Stop(time.Second) }()

	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.NotNil(t, app.GetConfig())
}

func TestNewServerApp_RequiresServerConfig(t *testing.T) {
	t.Parallel()

	_, err := NewServerApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server configuration is required")

	_, err = NewServerApp(context.Background(), WithConfig(&config.Config{}))
	assert.Error(t, err)
}

func TestWithAddress_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid host and port", address: "127.0.0.1:8080", wantErr: false},
		{name: "port only", address: ":8080", wantErr: false},
		{name: "localhost", address: "localhost:8080", wantErr: false},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: "127.0.0.1:", wantErr: true},
		{name: "not an address", address: "banana", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &serverAppConfig{}
			err := WithAddress(tt.address)(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.address, cfg.address)
			}
		})
	}
}

func TestServerApp_ServesSyncEndpoint(t *testing.T) {
	t.Parallel()

	app, err := NewServerApp(context.Background(),
		WithConfig(inMemoryConfig()),
		WithStores(server.NewMemoryObservationStore(), server.NewMemoryLedgerStore()),
	)
	require.NoError(t, err)
	defer func() { _ = app.Stop(time.Second) }()

	// Exercise the handler directly rather than binding a port
	rec := httptest.NewRecorder()
	app.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.GetHTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "GET /sync without userId is rejected")
}
