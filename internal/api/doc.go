// Package api provides the fleet control-plane REST API: the operator
// surface under /api/v1 and the agent surface under /internal/v1.
package api
