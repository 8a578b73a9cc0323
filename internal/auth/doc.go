// Package auth signs the user in against the Tikun API and keeps the issued
// bearer token in a private file between runs.
package auth
