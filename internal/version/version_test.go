package version

import (
	"strings"
	"testing"
)

func TestStringReflectsBuildVersion(t *testing.T) {
	t.Cleanup(ForTesting("1.2.3-test"))
	if got := String(); got != "1.2.3-test" {
		t.Fatalf("String() = %s", got)
	}
}

func TestCheckBackendMismatch(t *testing.T) {
	tests := []struct {
		name    string
		client  string
		backend string
		warn    bool
	}{
		{"same release", "0.3.0", "0.3.0", false},
		{"patch drift", "0.3.0", "0.3.7", false},
		{"minor differs", "0.3.0", "0.2.0", true},
		{"major differs", "1.3.0", "0.3.0", true},
		{"prefixed", "v1.4.0", "1.4.2", false},
		{"git describe suffix", "0.3.0-5-gabcdef", "0.3.1", false},
		{"git describe different minor", "0.3.0-5-gabcdef", "0.4.0", true},
		{"backend dev", "0.3.0", "dev", false},
		{"client dev", "dev", "0.3.0", false},
		{"empty backend", "0.3.0", "", false},
		{"empty client", "", "0.3.0", false},
		{"garbage backend", "0.3.0", "nightly", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			restore := ForTesting(tt.client)
			defer restore()

			got := CheckBackendMismatch(tt.backend)
			if (got != "") != tt.warn {
				t.Fatalf("CheckBackendMismatch(%q) with client %q = %q", tt.backend, tt.client, got)
			}
			if tt.warn && !strings.Contains(got, "version mismatch") {
				t.Fatalf("warning %q lacks reason", got)
			}
		})
	}
}

func TestFormatVersion(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"dev":       "dev",
		"0.3.0":     "v0.3.0",
		"v0.3.0":    "v0.3.0",
		" 4.0.1 ":   "v4.0.1",
		"4.0.1.743": "v4.0.1.743",
	}
	for in, want := range tests {
		if got := FormatVersion(in); got != want {
			t.Errorf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
