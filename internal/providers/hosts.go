package providers

import (
	"net/url"
	"strings"
)

// IsLocalHost reports whether host refers to the local machine, where an
// inference server typically runs without authentication.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.Trim(host, "[]"))
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

// ServerHost extracts the hostname from a server URL. Returns "" if unparseable.
func ServerHost(server string) string {
	u, err := url.Parse(server)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
