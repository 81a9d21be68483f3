package service

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"shortlink/internal/domain"
)

const (
	maxURLLength = 2048
	maxTags      = 10
	maxTagLength = 50
)

// ValidateDestination accepts absolute http(s) URLs with a host. Unless
// allowPrivate is set, hosts on loopback, private and link-local networks
// are rejected so short links cannot point into the internal network.
func ValidateDestination(raw string, allowPrivate bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}
	if len(raw) > maxURLLength {
		return "", fmt.Errorf("%w: url is longer than %d characters", domain.ErrInvalidURL, maxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: only http and https are supported", domain.ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: host is required", domain.ErrInvalidURL)
	}
	if !allowPrivate && isPrivateOrLocalhost(u.Hostname()) {
		return "", fmt.Errorf("%w: private and local hosts are not allowed", domain.ErrInvalidURL)
	}

	return raw, nil
}

func isPrivateOrLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// NormalizeTags trims, lowercases and deduplicates tags, keeping the first
// occurrence order.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if len(t) > maxTagLength {
			return nil, fmt.Errorf("%w: %q is longer than %d characters", domain.ErrInvalidTags, t, maxTagLength)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if len(out) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags per link", domain.ErrInvalidTags, maxTags)
	}
	return out, nil
}
