// Package allowlist classifies URLs by their authority for navigation
// policy decisions.
//
// Matching is against the URL's host component only, exact or
// dot-suffix. Checking whether an allowed domain appears anywhere in
// the URL text is a spoofing vector (https://evil.example.com/?x=claude.ai
// would pass), so nothing in this package ever matches against the full
// URL string.
package allowlist

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Category is the policy classification of a URL's host.
type Category string

const (
	// Primary covers the hosted application and its API domains.
	Primary Category = "primary"
	// IdentityProvider covers federated login provider domains.
	IdentityProvider Category = "identity_provider"
	// External is everything else, including URLs with no parseable
	// host.
	External Category = "external"
)

// flowVocabulary marks URLs that look like part of a login flow. Used
// only as a fallback signal, never for trust decisions.
var flowVocabulary = []string{"oauth", "callback", "auth", "login", "signin"}

// Ruleset holds the trusted host patterns and the application entry
// paths. It is the only configurable surface of the policy engine.
type Ruleset struct {
	// Primary domains: the hosted application and its APIs.
	Primary []string `yaml:"primary"`

	// IdentityProviders: federated login hosts and their static-asset
	// and API domains.
	IdentityProviders []string `yaml:"identity_providers"`

	// EntryPaths: path prefixes that count as "returned to the
	// application" on a Primary host. "/" matches only the root.
	EntryPaths []string `yaml:"entry_paths"`
}

// Default returns the built-in ruleset for the claude.ai shell.
func Default() *Ruleset {
	return &Ruleset{
		Primary: []string{
			"claude.ai",
			"anthropic.com",
			"claude.com",
		},
		IdentityProviders: []string{
			"accounts.google.com",
			"accounts.youtube.com",
			"gstatic.com",
			"googleapis.com",
			"googleusercontent.com",
			"appleid.apple.com",
			"appleid.cdn-apple.com",
		},
		EntryPaths: []string{"/", "/new", "/chat"},
	}
}

// LoadFile reads a ruleset from a YAML file.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowlist: %w", err)
	}
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse allowlist: %w", err)
	}
	if len(rs.Primary) == 0 {
		return nil, fmt.Errorf("allowlist %s defines no primary domains", path)
	}
	if len(rs.EntryPaths) == 0 {
		rs.EntryPaths = Default().EntryPaths
	}
	return &rs, nil
}

// Classify returns the policy category of a URL's host. Unparseable
// URLs and URLs without a host classify External; classification
// uncertainty must never upgrade to a trusted category.
func (r *Ruleset) Classify(rawURL string) Category {
	host := hostOf(rawURL)
	if host == "" {
		return External
	}
	if matchAny(host, r.Primary) {
		return Primary
	}
	if matchAny(host, r.IdentityProviders) {
		return IdentityProvider
	}
	return External
}

// FlowRelated reports whether the URL's path or query contains
// recognized OAuth/callback vocabulary.
func (r *Ruleset) FlowRelated(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	haystack := strings.ToLower(u.Path + "?" + u.RawQuery)
	for _, word := range flowVocabulary {
		if strings.Contains(haystack, word) {
			return true
		}
	}
	return false
}

// ReturnedToApp reports whether the URL is the hosted application's
// main or chat entry point, as opposed to an intermediate redirect.
func (r *Ruleset) ReturnedToApp(rawURL string) bool {
	if r.Classify(rawURL) != Primary {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, entry := range r.EntryPaths {
		if entry == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if path == entry || strings.HasPrefix(path, entry+"/") {
			return true
		}
	}
	return false
}

// hostOf extracts the lowercase hostname from a URL, or "" when the
// URL has no usable authority.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// matchAny reports whether host equals a domain or is a subdomain of
// one.
func matchAny(host string, domains []string) bool {
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
