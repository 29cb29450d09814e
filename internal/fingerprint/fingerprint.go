// Package fingerprint normalizes capture URLs and hashes them so that the same
// media URL written differently dedups to the same key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
)

// DefaultIgnoredParams are stripped from the query before hashing. A trailing
// "*" matches any parameter with that prefix.
var DefaultIgnoredParams = []string{
	"utm_*",
	"fbclid",
	"gclid",
	"gclsrc",
	"dclid",
	"msclkid",
	"_",
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Options configures a Normalizer.
type Options struct {
	// QuerySensitive keeps the query string (sorted, ignored params
	// stripped). When false the whole query is dropped.
	QuerySensitive bool
	IgnoredParams  []string
}

// Normalizer turns URLs into canonical strings and fingerprints.
// It is immutable and safe for concurrent use.
type Normalizer struct {
	querySensitive bool
	exact          map[string]struct{}
	prefixes       []string
}

// New builds a Normalizer from opts.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		querySensitive: opts.QuerySensitive,
		exact:          make(map[string]struct{}, len(opts.IgnoredParams)),
	}
	for _, p := range opts.IgnoredParams {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			n.prefixes = append(n.prefixes, prefix)
			continue
		}
		n.exact[p] = struct{}{}
	}
	return n
}

// Normalize lowercases scheme and host, removes the default port and the
// fragment, and rewrites the query according to the Normalizer's options.
// The path is kept byte-for-byte; media CDNs treat it as case-sensitive.
func (n *Normalizer) Normalize(u *url.URL) string {
	out := *u
	out.Scheme = strings.ToLower(u.Scheme)
	out.Host = normalizeHost(u, out.Scheme)
	out.Fragment = ""
	out.RawFragment = ""
	out.ForceQuery = false

	if out.Path == "" && out.Opaque == "" {
		out.Path = "/"
	}

	if n.querySensitive {
		out.RawQuery = n.cleanQuery(u.Query())
	} else {
		out.RawQuery = ""
	}

	return out.String()
}

// Fingerprint returns the normalized URL and the hex SHA-256 of it.
func (n *Normalizer) Fingerprint(u *url.URL) (normalized, fingerprint string) {
	normalized = n.Normalize(u)
	return normalized, Hash(normalized)
}

// Hash returns the 64-character hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (n *Normalizer) ignored(key string) bool {
	if _, ok := n.exact[key]; ok {
		return true
	}
	for _, prefix := range n.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// cleanQuery sorts keys and drops ignored ones. Values for a repeated key
// keep their original order.
func (n *Normalizer) cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if !n.ignored(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, val := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

func normalizeHost(u *url.URL, scheme string) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" || defaultPorts[scheme] == port {
		return hostname
	}
	return hostname + ":" + port
}
