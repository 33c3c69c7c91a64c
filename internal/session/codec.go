// Package session encodes runtime session handles into conversation
// event logs and recovers the most recent one later.
package session

import "strings"

// MarkerPrefix introduces a marker event. An event whose text starts
// with this prefix carries the session handle minted by the agent
// runtime for the conversation's most recent turn.
const MarkerPrefix = "__SESSION__:"

// EncodeMarker formats a session handle as marker event text.
func EncodeMarker(handle string) string {
	return MarkerPrefix + handle
}

// DecodeMarker extracts the session handle from marker event text.
// It reports false for text that does not start with the exact prefix
// or that carries an empty handle.
func DecodeMarker(text string) (string, bool) {
	if !strings.HasPrefix(text, MarkerPrefix) {
		return "", false
	}

	handle := strings.TrimSpace(strings.TrimPrefix(text, MarkerPrefix))
	if handle == "" {
		return "", false
	}

	return handle, true
}
