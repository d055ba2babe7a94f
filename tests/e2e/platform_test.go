package e2e

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	// Liveness and readiness are unauthenticated.
	resp, err := http.Get(fleetAPIURL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get(fleetAPIURL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode, "registry DB should be reachable")

	resp, err = http.Get(fleetAPIURL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	resp, err := http.Get(fleetAPIURL + "/api/v1/instances")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 401, resp.StatusCode, "unauthenticated request should be rejected")
}

func TestVolumeCRUD(t *testing.T) {
	in := findHealthyInstance(t)
	instanceID, _ := in["id"].(string)
	volumeID := fmt.Sprintf("vol-e2e-%d", time.Now().UnixNano())

	resp, body := httpPost(t, fleetAPIURL+"/api/v1/volumes", map[string]interface{}{
		"volume_id":   volumeID,
		"instance_id": instanceID,
		"tier":        "standard",
		"size_gb":     10,
	})
	require.Equal(t, 201, resp.StatusCode, "create volume: %s", body)
	t.Cleanup(func() { httpDelete(t, fleetAPIURL+"/api/v1/volumes/"+volumeID) })

	resp, body = httpGet(t, fleetAPIURL+"/api/v1/volumes/"+volumeID)
	require.Equal(t, 200, resp.StatusCode, "get volume: %s", body)
	vol := parseJSON(t, body)
	require.Equal(t, instanceID, vol["instance_id"])

	resp, body = httpDelete(t, fleetAPIURL+"/api/v1/volumes/"+volumeID)
	require.Equal(t, 204, resp.StatusCode, "delete volume: %s", body)

	resp, _ = httpGet(t, fleetAPIURL+"/api/v1/volumes/"+volumeID)
	require.Equal(t, 404, resp.StatusCode)
}
