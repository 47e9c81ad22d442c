// Package api anchors the OpenAPI documentation for the MeshForge HTTP
// surface. The wire types live next to their handlers under api/handlers,
// because the response bodies are frozen legacy contracts.
//
// The surface is deliberately small: POST /generate-3d runs the
// image-to-3D pipeline for a stored record, GET /health is the legacy
// probe (always HTTP 200, result in body), /healthz, /ready and /readyz
// are Kubernetes-style probes, /version reports build information, and
// "/" returns a service descriptor. Prometheus metrics are served from a
// separate port at /metrics.
//
// The service carries no authentication of its own; deployments front it
// with an authenticating proxy, and browser access is constrained by the
// configured CORS origin allowlist.
//
// Regenerate the Swagger artifacts with:
//
//	swag init -g cmd/meshforge/main.go -o api --parseDependency --parseInternal
package api
