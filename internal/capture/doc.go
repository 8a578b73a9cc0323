// Package capture acquires mono float audio at the session sample rate and
// delivers it as chunks on a channel. The microphone device needs cgo; the
// file source replays a WAV recording and works everywhere.
package capture
