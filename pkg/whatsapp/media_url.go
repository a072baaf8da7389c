package whatsapp

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// rewriteMediaURL points WAHA's self-referencing localhost links at the
// configured WAHA host.
func rewriteMediaURL(mediaURL, baseURL string) string {
	if baseURL == "" {
		return mediaURL
	}

	u, err := url.Parse(mediaURL)
	if err != nil {
		return mediaURL
	}

	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return mediaURL
	}

	waha, err := url.Parse(baseURL)
	if err != nil {
		return mediaURL
	}
	u.Scheme = waha.Scheme
	u.Host = waha.Host
	return u.String()
}

// validateDownloadURL only lets the client fetch from the WAHA host itself or
// from a container-internal host on the same port.
func validateDownloadURL(rawURL, baseURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	if baseURL == "" {
		return nil
	}

	waha, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid WAHA base URL: %w", err)
	}

	if strings.EqualFold(u.Hostname(), waha.Hostname()) && u.Port() == waha.Port() {
		return nil
	}
	if isDockerInternalHost(u.Hostname()) {
		return nil
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.IsPrivate() && u.Port() == waha.Port() {
		return nil
	}

	return fmt.Errorf("download host not allowed: %s", u.Hostname())
}

// isDockerInternalHost matches single-label service names such as "waha".
func isDockerInternalHost(hostname string) bool {
	if hostname == "" || hostname == "localhost" {
		return false
	}
	if net.ParseIP(hostname) != nil {
		return false
	}
	return !strings.Contains(hostname, ".")
}
