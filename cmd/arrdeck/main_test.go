package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	arrversion "github.com/arrdeck/arrdeck/internal/version"
)

// fakeBackend serves one multi-instance sonarr document plus the status
// endpoints the CLI reads.
type fakeBackend struct {
	mu     sync.Mutex
	sonarr map[string]any
	saves  int
	probes int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sonarr: map[string]any{
		"hunt_missing_items": 2,
		"instances": []any{
			map[string]any{"name": "Main", "url": "http://sonarr.lan:8989", "api_key": "0123456789abcdef0123456789", "enabled": true, "instance_id": "abc"},
		},
	}}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/settings/sonarr":
		_ = enc.Encode(b.sonarr)
	case r.Method == http.MethodPost && r.URL.Path == "/api/settings/sonarr":
		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.sonarr = doc
		b.saves++
		_ = enc.Encode(map[string]any{"success": true})
	case r.Method == http.MethodPost && r.URL.Path == "/api/sonarr/test-connection":
		b.probes++
		_ = enc.Encode(map[string]any{"success": true, "version": "4.0.1", "message": "ok"})
	case r.URL.Path == "/api/sonarr/status":
		_ = enc.Encode(map[string]any{"enabled": true, "configured": true, "connected": true})
	case r.URL.Path == "/api/stats":
		_ = enc.Encode(map[string]any{"sonarr": map[string]any{"hunted": 12, "upgraded": 3}})
	case r.URL.Path == "/api/state/reset-times":
		_ = enc.Encode(map[string]any{"sonarr": map[string]any{"expires_at": time.Now().Add(26 * time.Hour).Unix()}})
	case r.URL.Path == "/api/version":
		_ = enc.Encode(map[string]any{"version": "1.2.0"})
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) instances() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, _ := b.sonarr["instances"].([]any)
	return list
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"backend:",
		"  base_url: " + baseURL,
		"  token: secret-token",
		"  timeout: 2s",
		"cache:",
		"  persist: false",
		"retry:",
		"  max_attempts: 1",
		"  base_delay: 1ms",
		"  max_delay: 1ms",
		"validator:",
		"  debounce: 1ms",
		"apps: [sonarr]",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func setup(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	b := newFakeBackend()
	ts := httptest.NewServer(b)
	t.Cleanup(ts.Close)
	return b, writeConfig(t, ts.URL)
}

func TestInstancesListRedactsKeys(t *testing.T) {
	_, cfg := setup(t)

	out, _, err := run(t, "--config", cfg, "instances", "list", "sonarr")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Main") || !strings.Contains(out, "http://sonarr.lan:8989") {
		t.Fatalf("list output missing instance:\n%s", out)
	}
	if strings.Contains(out, "0123456789abcdef") || !strings.Contains(out, maskedKey) {
		t.Fatalf("API key not redacted:\n%s", out)
	}

	out, _, err = run(t, "--config", cfg, "--json", "instances", "list", "sonarr")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var payload struct {
		Instances []instanceView `json:"instances"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(payload.Instances) != 1 || payload.Instances[0].InstanceID != "abc" || payload.Instances[0].APIKey != maskedKey {
		t.Fatalf("instances = %+v", payload.Instances)
	}
}

func TestInstancesRejectsUnknownOrSingleApps(t *testing.T) {
	_, cfg := setup(t)

	tests := []struct {
		name string
		app  string
		want string
	}{
		{"unknown", "plex", "unknown application"},
		{"not enabled", "radarr", "not enabled"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, "--config", cfg, "instances", "list", tt.app)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestInstancesAddWithFlags(t *testing.T) {
	b, cfg := setup(t)

	out, _, err := run(t, "--config", cfg, "instances", "add", "sonarr",
		"--url", "http://sonarr-4k.lan:8989", "--api-key", "fedcba9876543210fedcba98")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "index 1") {
		t.Fatalf("add output = %q", out)
	}
	list := b.instances()
	if len(list) != 2 {
		t.Fatalf("stored instances = %d, want 2", len(list))
	}
	added := list[1].(map[string]any)
	if added["url"] != "http://sonarr-4k.lan:8989" || added["enabled"] != true || added["name"] != "Instance 2" {
		t.Fatalf("added = %+v", added)
	}
	if first := list[0].(map[string]any); first["api_key"] != "0123456789abcdef0123456789" {
		t.Fatalf("existing credential not round-tripped: %+v", first)
	}
}

func TestInstancesAddReadsKeyFromPipe(t *testing.T) {
	b, cfg := setup(t)

	origIn, origTTY := stdin, stdinIsTTY
	t.Cleanup(func() { stdin, stdinIsTTY = origIn, origTTY })
	stdin = strings.NewReader("piped-key-0123456789abcd\n")
	stdinIsTTY = func() bool { return false }

	if _, _, err := run(t, "--config", cfg, "instances", "add", "sonarr", "--name", "Anime", "--url", "http://anime.lan:8989"); err != nil {
		t.Fatalf("add: %v", err)
	}
	added := b.instances()[1].(map[string]any)
	if added["api_key"] != "piped-key-0123456789abcd" || added["name"] != "Anime" {
		t.Fatalf("added = %+v", added)
	}

	stdin = strings.NewReader("")
	_, _, err := run(t, "--config", cfg, "instances", "add", "sonarr", "--url", "http://other.lan:8989")
	if err == nil || !strings.Contains(err.Error(), "API key is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestInstancesRemove(t *testing.T) {
	b, cfg := setup(t)

	if _, _, err := run(t, "--config", cfg, "instances", "add", "sonarr", "--url", "http://b.lan:8989", "--api-key", "k"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := run(t, "--config", cfg, "instances", "remove", "sonarr", "0"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list := b.instances()
	if len(list) != 1 || list[0].(map[string]any)["url"] != "http://b.lan:8989" {
		t.Fatalf("instances after remove = %+v", list)
	}

	_, _, err := run(t, "--config", cfg, "instances", "remove", "sonarr", "0")
	if err == nil || !strings.Contains(err.Error(), "last instance") {
		t.Fatalf("removing the last instance: %v", err)
	}
	if _, _, err := run(t, "--config", cfg, "instances", "remove", "sonarr", "x"); err == nil {
		t.Fatal("non-numeric index accepted")
	}
}

func TestInstancesTest(t *testing.T) {
	b, cfg := setup(t)

	out, _, err := run(t, "--config", cfg, "--json", "instances", "test", "sonarr")
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	var payload struct {
		Results []testView `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(payload.Results) != 1 || payload.Results[0].Status != "connected" || payload.Results[0].Version != "v4.0.1" {
		t.Fatalf("results = %+v", payload.Results)
	}
	b.mu.Lock()
	probes := b.probes
	b.mu.Unlock()
	if probes != 1 {
		t.Fatalf("probes = %d", probes)
	}
}

func TestStatus(t *testing.T) {
	_, cfg := setup(t)

	out, _, err := run(t, "--config", cfg, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var payload struct {
		Apps []appStatus `json:"apps"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(payload.Apps) != 1 {
		t.Fatalf("apps = %+v", payload.Apps)
	}
	got := payload.Apps[0]
	if got.Health != "connected" || got.Hunted != 12 || got.Upgraded != 3 || !strings.HasPrefix(got.ResetsIn, "1d ") {
		t.Fatalf("status = %+v", got)
	}

	out, _, err = run(t, "--config", cfg, "status", "sonarr")
	if err != nil {
		t.Fatalf("status sonarr: %v", err)
	}
	if !strings.Contains(out, "HEALTH") || !strings.Contains(out, "connected") {
		t.Fatalf("table output:\n%s", out)
	}
	if _, _, err := run(t, "--config", cfg, "status", "lidarr"); err == nil {
		t.Fatal("status for a disabled app succeeded")
	}
}

func TestStatusBackendDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	cfg := writeConfig(t, ts.URL)
	ts.Close()

	out, _, err := run(t, "--config", cfg, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"health": "unknown"`) || !strings.Contains(out, `"error"`) {
		t.Fatalf("status output:\n%s", out)
	}
}

func TestConfigShowMasksToken(t *testing.T) {
	_, cfg := setup(t)

	out, _, err := run(t, "--config", cfg, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-token") || !strings.Contains(out, maskedKey) {
		t.Fatalf("token not masked:\n%s", out)
	}
	if !strings.Contains(out, "debounce: 1ms") {
		t.Fatalf("durations not rendered:\n%s", out)
	}

	out, _, err = run(t, "--config", cfg, "--json", "config", "show")
	if err != nil {
		t.Fatalf("config show --json: %v", err)
	}
	if !strings.Contains(out, `"status_ttl": "30s"`) {
		t.Fatalf("json output:\n%s", out)
	}
}

func TestConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: verbose\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "--config", path, "config", "show"); err == nil || !strings.Contains(err.Error(), "log.level") {
		t.Fatalf("error = %v", err)
	}
}

func TestVersionReportsMismatch(t *testing.T) {
	_, cfg := setup(t)
	restore := arrversion.ForTesting("1.1.0")
	t.Cleanup(restore)

	out, errOut, err := run(t, "--config", cfg, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "client:  v1.1.0") || !strings.Contains(out, "backend: v1.2.0") {
		t.Fatalf("version output:\n%s", out)
	}
	if !strings.Contains(errOut, "version mismatch") {
		t.Fatalf("missing mismatch warning: %q", errOut)
	}
}
