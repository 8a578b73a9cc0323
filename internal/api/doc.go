// Package api implements the HTTP client for the Tikun inference and training API.
// It uploads encoded clips as multipart form data, manages sound definitions and
// detection history, retries transient failures with exponential backoff and
// bounds the number of in-flight requests.
package api
