// Package webhook is the HTTP face of pushdeploy: it receives GitHub webhook
// deliveries, proves they came from the holder of the shared secret and
// decides whether a push should trigger a deployment.
//
// # Security Model
//
//   - HMAC-SHA256 over the raw body, compared with crypto/subtle after an
//     explicit length check
//   - the body is read completely, bounded by max_body_size, before any
//     processing
//   - a delivery with a missing or wrong signature is answered 401 and its
//     payload is never parsed
//   - signature failures carry one generic reason; request logging never
//     includes bodies
//   - nothing from the request reaches the deployment script
//
// # Request Flow
//
//  1. POST arrives at webhook.path
//  2. Body read (413 if larger than max_body_size)
//  3. Signature verified (401 on failure)
//  4. Body checked for valid JSON (400 otherwise)
//  5. Event routed: push to the deploy branch deploys, anything else is
//     answered 200 "ignored"
//  6. Deployment runs synchronously: 200 "success", 500 "error", or 409
//     when another deployment holds the slot
//
// # Routes
//
//	POST {webhook.path}        webhook deliveries
//	GET  /health               liveness and uptime, no auth
//	GET  /deployments          recent history (bearer token)
//	GET  /deployments/{id}     one deployment (bearer token)
//	GET  /events               SSE lifecycle stream (bearer token)
//
// The token-protected routes exist only when api.token is configured.
// Every other method and path is answered 404.
package webhook
