package e2e

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGraphLifecycle(t *testing.T) {
	entityID := fmt.Sprintf("e2e-entity-%d", time.Now().UnixNano())

	// Provision a graph.
	resp, body := httpPost(t, fleetAPIURL+"/api/v1/graphs", map[string]interface{}{
		"entity_id": entityID,
		"region":    "us-east-1",
	})
	require.Equal(t, 201, resp.StatusCode, "create graph: %s", body)
	assignment := parseJSON(t, body)
	graphID, _ := assignment["graph_id"].(string)
	require.NotEmpty(t, graphID)
	require.Equal(t, "active", assignment["status"])
	require.NotEmpty(t, assignment["instance_id"], "graph should be placed on an instance")
	t.Logf("created graph %s on %v", graphID, assignment["instance_id"])

	t.Cleanup(func() { httpDelete(t, fleetAPIURL+"/api/v1/graphs/"+graphID) })

	// Get it back.
	resp, body = httpGet(t, fleetAPIURL+"/api/v1/graphs/"+graphID)
	require.Equal(t, 200, resp.StatusCode, "get graph: %s", body)

	// It shows up in the entity listing.
	resp, body = httpGet(t, fleetAPIURL+"/api/v1/graphs?entity_id="+entityID)
	require.Equal(t, 200, resp.StatusCode, "list graphs: %s", body)
	graphs := parseJSONList(t, body)
	found := false
	for _, g := range graphs {
		if id, _ := g["graph_id"].(string); id == graphID {
			found = true
			break
		}
	}
	require.True(t, found, "graph %s not in entity listing", graphID)

	// Write and read through the gateway.
	resp, body = httpPost(t, fleetAPIURL+"/api/v1/graphs/"+graphID+"/query", map[string]interface{}{
		"query": "CREATE (n:E2E {name: $name}) RETURN n.name",
		"parameters": map[string]interface{}{
			"name": "lifecycle",
		},
		"write": true,
	})
	require.Equal(t, 200, resp.StatusCode, "write query: %s", body)

	resp, body = httpPost(t, fleetAPIURL+"/api/v1/graphs/"+graphID+"/query", map[string]interface{}{
		"query": "MATCH (n:E2E) RETURN n.name",
	})
	require.Equal(t, 200, resp.StatusCode, "read query: %s", body)
	result := parseJSON(t, body)
	require.NotEmpty(t, result["columns"], "query result should have columns")
	t.Logf("query result: %s", body)

	// Delete.
	resp, body = httpDelete(t, fleetAPIURL+"/api/v1/graphs/"+graphID)
	require.Equal(t, 204, resp.StatusCode, "delete graph: %s", body)

	resp, _ = httpGet(t, fleetAPIURL+"/api/v1/graphs/"+graphID)
	require.Equal(t, 404, resp.StatusCode, "deleted graph should be gone")
}

func TestQueryUnknownGraph(t *testing.T) {
	resp, body := httpPost(t, fleetAPIURL+"/api/v1/graphs/kg_does_not_exist/query", map[string]interface{}{
		"query": "RETURN 1",
	})
	require.Equal(t, 404, resp.StatusCode, "query unknown graph: %s", body)
}

func TestQuerySyntaxErrorPassesThrough(t *testing.T) {
	entityID := fmt.Sprintf("e2e-syntax-%d", time.Now().UnixNano())

	resp, body := httpPost(t, fleetAPIURL+"/api/v1/graphs", map[string]interface{}{
		"entity_id": entityID,
		"region":    "us-east-1",
	})
	require.Equal(t, 201, resp.StatusCode, "create graph: %s", body)
	graphID, _ := parseJSON(t, body)["graph_id"].(string)
	t.Cleanup(func() { httpDelete(t, fleetAPIURL+"/api/v1/graphs/"+graphID) })

	resp, body = httpPost(t, fleetAPIURL+"/api/v1/graphs/"+graphID+"/query", map[string]interface{}{
		"query": "MATCH (n RETRUN n",
	})
	require.Equal(t, 400, resp.StatusCode, "syntax error should map to 400: %s", body)
}
