package netutil

import (
	"fmt"
	"net/url"
	"strings"
)

// WebSocketURL rewrites an http(s) base URL to ws(s) and appends path.
func WebSocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String() + path, nil
}

// JoinURL glues a base URL and a server-provided path fragment, which may or
// may not carry a leading slash.
func JoinURL(baseURL, path string) string {
	if path == "" {
		return strings.TrimSuffix(baseURL, "/")
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
