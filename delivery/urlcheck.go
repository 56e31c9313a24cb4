package delivery

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateTargetURL guards outbound sends against SSRF-style targets. The
// default policy rejects loopback, link-local, private-range and cloud
// metadata addresses; allowPrivate relaxes everything but the scheme check
// for development setups. Hostnames are resolved so DNS names pointing at
// internal ranges are caught too.
func ValidateTargetURL(rawURL string, allowPrivate bool) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("target url is empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("target url does not parse: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("target url scheme %q is not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("target url has no host")
	}

	if allowPrivate {
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("target host %q is loopback", host)
	}
	// The metadata endpoint hides behind a fixed name on some platforms.
	if strings.EqualFold(host, "metadata.google.internal") {
		return fmt.Errorf("target host %q is a metadata service", host)
	}

	ips := []net.IP{}
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			// Unresolvable targets fail later as network errors with retry
			// semantics; the guard only rejects what it can prove unsafe.
			return nil
		}
		ips = resolved
	}

	for _, ip := range ips {
		if reason := blockedIPReason(ip); reason != "" {
			return fmt.Errorf("target host %q resolves to %s address %s", host, reason, ip)
		}
	}
	return nil
}

func blockedIPReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "a loopback"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return "a link-local"
	case ip.IsPrivate():
		return "a private-range"
	case ip.IsUnspecified():
		return "an unspecified"
	case ip.Equal(net.ParseIP("169.254.169.254")):
		return "a metadata"
	}
	return ""
}
