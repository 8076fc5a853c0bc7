package fetch

import (
	"net/url"
	"strings"
)

// Kind is the class of a source URL.
type Kind int

const (
	// KindDirect serves files with standard headers and needs no auth.
	KindDirect Kind = iota
	// KindMarketplace reveals the real filename only through a redirect.
	KindMarketplace
	// KindTokenGated accepts an optional bearer token.
	KindTokenGated
	// KindObjectStore is an s3://bucket/key source.
	KindObjectStore
)

func (k Kind) String() string {
	switch k {
	case KindMarketplace:
		return "marketplace"
	case KindTokenGated:
		return "token-gated"
	case KindObjectStore:
		return "object-store"
	default:
		return "direct"
	}
}

// Hosts lists the host patterns per kind. A pattern matches the host itself
// and any subdomain.
type Hosts struct {
	Marketplace []string
	TokenGated  []string
}

// Classify returns the kind of rawURL. Unparseable URLs are direct; the
// executor reports the parse error.
func Classify(rawURL string, hosts Hosts) Kind {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return KindDirect
	}
	if strings.EqualFold(u.Scheme, "s3") {
		return KindObjectStore
	}

	host := strings.ToLower(u.Hostname())
	if matchesAny(host, hosts.Marketplace) {
		return KindMarketplace
	}
	if matchesAny(host, hosts.TokenGated) {
		return KindTokenGated
	}
	return KindDirect
}

func matchesAny(host string, patterns []string) bool {
	if host == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p), "."))
		if p == "" {
			continue
		}
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}
