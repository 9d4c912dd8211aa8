// Package webhook starts pipelines from signed HTTP requests.
//
// Every endpoint maps a path to a named pipeline. Requests must carry an
// HMAC-SHA256 signature of the body, computed with the endpoint's secret,
// in the configured header ("sha256=<hex>" or plain hex). A verified
// request is enqueued as a run started by the system:webhook trigger with
// the payload {"body": ..., "headers": {...}} and answered with 202 and the
// run id.
//
// Error responses never say why verification failed:
//
//   - 403 Forbidden: missing or invalid signature
//   - 404 Not Found: unknown path
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 500 Internal Server Error: the run could not be enqueued
package webhook
