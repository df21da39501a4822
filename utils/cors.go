// Package utils carries the shared HTTP plumbing for the control API.
package utils

import (
	"net"
	"net/url"
	"strings"
)

// IsAllowedOrigin reports whether a browser Origin may talk to the control
// API. The daemon serves a LAN, so localhost, private and link-local
// addresses, .local mDNS names, and bare single-label hostnames are trusted;
// anything routable on the public internet is not.
func IsAllowedOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()

	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	// A name without dots can only resolve on the local network.
	if !strings.Contains(host, ".") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
