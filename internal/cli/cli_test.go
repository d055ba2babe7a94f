package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FLEET_API_URL", "")
	t.Setenv("FLEET_API_KEY", "")

	require.NoError(t, SetProfile("Staging", "https://fleet.staging.example.com/", "sk-staging"))
	require.NoError(t, SetProfile("prod", "https://fleet.example.com", "sk-prod"))

	cfg, err := LoadProfiles()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.CurrentProfile)
	assert.Len(t, cfg.Profiles, 2)
	// Name is lowercased, trailing slash stripped.
	assert.Equal(t, "https://fleet.staging.example.com", cfg.Profiles["staging"].APIURL)

	require.NoError(t, UseProfile("staging"))

	c, err := ResolveClient()
	require.NoError(t, err)
	assert.Equal(t, "https://fleet.staging.example.com", c.BaseURL)
	assert.Equal(t, "sk-staging", c.APIKey)
}

func TestUseProfileUnknown(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := UseProfile("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResolveClientEnvOverridesProfile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, SetProfile("prod", "https://fleet.example.com", "sk-prod"))

	t.Setenv("FLEET_API_URL", "http://localhost:8080")
	t.Setenv("FLEET_API_KEY", "sk-local")

	c, err := ResolveClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
	assert.Equal(t, "sk-local", c.APIKey)
}

func TestResolveClientUnconfigured(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("FLEET_API_URL", "")
	t.Setenv("FLEET_API_KEY", "")

	_, err := ResolveClient()
	require.Error(t, err)
}

func TestClientSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	resp, err := c.Post("/api/v1/graphs", map[string]string{"entity_id": "acme"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClientWrapsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"graph not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	resp, err := c.Get("/api/v1/graphs/kg_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "graph not found")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
