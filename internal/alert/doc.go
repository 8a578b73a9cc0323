// Package alert decides when a stream of predictions becomes a user-facing
// alert and fans accepted alerts out to the configured notifiers.
//
// A label must hit at least twice within the hit window before it can alert,
// and alerts are spaced by a cooldown. Predictions labeled "unknown" never
// count as hits.
package alert
