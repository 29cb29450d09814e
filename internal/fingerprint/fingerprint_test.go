package fingerprint_test

import (
	"net/url"
	"testing"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/fingerprint"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestNormalize_QuerySensitive(t *testing.T) {
	t.Parallel()

	n := fingerprint.New(fingerprint.Options{
		QuerySensitive: true,
		IgnoredParams:  fingerprint.DefaultIgnoredParams,
	})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase scheme and host", "HTTPS://CDN.Example.com/Video/Seg1.m3u8", "https://cdn.example.com/Video/Seg1.m3u8"},
		{"keeps http scheme", "http://cdn.example.com/a.mp4", "http://cdn.example.com/a.mp4"},
		{"remove default https port", "https://cdn.example.com:443/a.m3u8", "https://cdn.example.com/a.m3u8"},
		{"remove default http port", "http://cdn.example.com:80/a.m3u8", "http://cdn.example.com/a.m3u8"},
		{"keep non-default port", "https://cdn.example.com:8443/a.m3u8", "https://cdn.example.com:8443/a.m3u8"},
		{"remove fragment", "https://cdn.example.com/a.mpd#t=10", "https://cdn.example.com/a.mpd"},
		{"empty path becomes root", "https://cdn.example.com", "https://cdn.example.com/"},
		{"sort query", "https://cdn.example.com/a.m3u8?z=1&a=2", "https://cdn.example.com/a.m3u8?a=2&z=1"},
		{"strip utm wildcard", "https://cdn.example.com/a.m3u8?utm_foo=x&id=1", "https://cdn.example.com/a.m3u8?id=1"},
		{"strip cache buster", "https://cdn.example.com/a.m3u8?_=1712345&id=1", "https://cdn.example.com/a.m3u8?id=1"},
		{"empty after stripping", "https://cdn.example.com/a.m3u8?fbclid=abc", "https://cdn.example.com/a.m3u8"},
		{"repeated key keeps order", "https://cdn.example.com/a?b=2&b=1", "https://cdn.example.com/a?b=2&b=1"},
		{"ipv6 host", "https://[::1]:443/a.m3u8", "https://[::1]/a.m3u8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := n.Normalize(mustParse(t, tt.input)); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_QueryInsensitiveDropsQuery(t *testing.T) {
	t.Parallel()

	n := fingerprint.New(fingerprint.Options{QuerySensitive: false})

	got := n.Normalize(mustParse(t, "https://cdn.example.com/seg.m3u8?token=abc&exp=99"))
	if want := "https://cdn.example.com/seg.m3u8"; got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}

func TestFingerprint_EquivalentURLsCollide(t *testing.T) {
	t.Parallel()

	n := fingerprint.New(fingerprint.Options{
		QuerySensitive: true,
		IgnoredParams:  fingerprint.DefaultIgnoredParams,
	})

	_, a := n.Fingerprint(mustParse(t, "https://CDN.example.com:443/v/seg1.m3u8?b=2&a=1#frag"))
	_, b := n.Fingerprint(mustParse(t, "https://cdn.example.com/v/seg1.m3u8?a=1&b=2&utm_source=x"))
	_, c := n.Fingerprint(mustParse(t, "https://cdn.example.com/v/seg2.m3u8?a=1&b=2"))

	if a != b {
		t.Errorf("equivalent URLs produced different fingerprints: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different URLs produced the same fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	n := fingerprint.New(fingerprint.Options{QuerySensitive: true})
	u := mustParse(t, "HTTPS://CDN.example.com/a.m3u8?z=1#x")
	_ = n.Normalize(u)

	if u.Host != "CDN.example.com" || u.Fragment != "x" {
		t.Errorf("input URL mutated: %s", u.String())
	}
}
