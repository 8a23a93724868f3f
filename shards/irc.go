package shards

import "strings"

// The shard state machine only interprets the handful of control frames
// the connection lifecycle requires: the auth handshake outcome,
// keepalive PING, and the gateway's RECONNECT directive. Everything
// else passes through to the frame handler untouched.

// commandOf extracts the IRC command token from a raw line, skipping
// an optional tags section (@...) and prefix (:...).
func commandOf(line string) string {
	rest := line
	if strings.HasPrefix(rest, "@") {
		if idx := strings.IndexByte(rest, ' '); idx >= 0 {
			rest = rest[idx+1:]
		} else {
			return ""
		}
	}
	if strings.HasPrefix(rest, ":") {
		if idx := strings.IndexByte(rest, ' '); idx >= 0 {
			rest = rest[idx+1:]
		} else {
			return ""
		}
	}
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// isAuthSuccess reports whether the line is the post-auth welcome (001).
func isAuthSuccess(line string) bool {
	return commandOf(line) == "001"
}

// isAuthFailure reports whether the line is a NOTICE rejecting the
// login before the welcome arrived.
func isAuthFailure(line string) bool {
	if commandOf(line) != "NOTICE" {
		return false
	}
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "login unsuccessful")
}

// isPing reports whether the line is a server keepalive.
func isPing(line string) bool {
	return commandOf(line) == "PING"
}

// pongFor builds the keepalive reply for a PING line, echoing its
// payload when present.
func pongFor(line string) string {
	if idx := strings.Index(line, "PING"); idx >= 0 {
		payload := strings.TrimSpace(line[idx+len("PING"):])
		if payload != "" {
			return "PONG " + payload
		}
	}
	return "PONG :tmi.twitch.tv"
}

// isReconnect reports whether the gateway asked us to reconnect.
func isReconnect(line string) bool {
	return commandOf(line) == "RECONNECT"
}

// normalizeChannel lowercases a channel name and strips a leading '#'.
func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}
