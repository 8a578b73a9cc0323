// Package audio turns captured float samples into fixed-length inference windows
// and encodes them as mono 16-bit PCM WAV clips. It also carries the WAV helpers
// used to replay and inspect recorded clips.
package audio
