// Package wireproto defines the small line-oriented protocol peers speak to
// each other over the pool's long-lived TCP connections (§4.4, §4.5): PING,
// its PONG reply, and GET CONFIG with its escaped-newline payload.
package wireproto

import "strings"

const (
	// Ping is the liveness probe a peer sends over an existing connection.
	Ping = "PING"
	// Pong is the only acceptable reply to Ping.
	Pong = "PONG"
	// GetConfigPrefix is matched by length, not exact equality — the
	// original accepts any command at least this long that starts with it.
	GetConfigPrefix = "GET CONFIG"
)

// EscapeNewlines turns literal newlines in a YAML document into the two-byte
// sequence `\n`, so the whole document can travel as a single protocol line.
func EscapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}

// UnescapeNewlines reverses EscapeNewlines.
func UnescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// IsGetConfig reports whether line is a GET CONFIG request. The wire format
// only requires a length-and-prefix match, matching the original's command
// dispatch (it never treats an overlong command as malformed).
func IsGetConfig(line string) bool {
	return len(line) >= len(GetConfigPrefix) && strings.HasPrefix(line, GetConfigPrefix)
}
