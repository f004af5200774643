package registry

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidDomain is returned for input that doesn't contain a host name
var ErrInvalidDomain = errors.New("invalid domain")

// Normalize reduces user input such as "https://www.Example.com/path" to
// the bare domain "example.com".
func Normalize(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", ErrInvalidDomain
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return "", ErrInvalidDomain
		}
		s = u.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "www."), ".")

	if s == "" || strings.ContainsAny(s, " \t@") || (!strings.Contains(s, ".") && s != "localhost") {
		return "", ErrInvalidDomain
	}
	return s, nil
}

// MatchHost returns the site that host belongs to, either exactly or as a
// subdomain.
func MatchHost(host string, sites []string) (string, bool) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, site := range sites {
		if host == site || strings.HasSuffix(host, "."+site) {
			return site, true
		}
	}
	return "", false
}
