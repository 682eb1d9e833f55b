package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetHome(t *testing.T) {
	home := GetHome()

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".arrdeck")

	if home != expected {
		t.Errorf("GetHome() = %s; want %s", home, expected)
	}
}

func TestGetInstancePaths(t *testing.T) {
	paths := GetInstancePaths("")

	if !strings.Contains(paths.Config, "instances/default/config.yaml") {
		t.Errorf("Config path incorrect: %s", paths.Config)
	}
	if !strings.Contains(paths.CacheDB, "instances/default/cache.db") {
		t.Errorf("CacheDB path incorrect: %s", paths.CacheDB)
	}
	if !strings.Contains(paths.LogFile, "instances/default/logs/arrdeck.log") {
		t.Errorf("LogFile path incorrect: %s", paths.LogFile)
	}
	if filepath.Dir(paths.KeyFile) != paths.Home {
		t.Errorf("KeyFile %s not under home %s", paths.KeyFile, paths.Home)
	}
}

func TestGetInstancePathsNamed(t *testing.T) {
	if GetInstancePaths("").Home != GetInstancePaths("default").Home {
		t.Error("Empty string and 'default' should give same paths")
	}
	if GetInstancePaths("lab").Home == GetInstancePaths("default").Home {
		t.Error("named instance should not share the default home")
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}

func TestEnsureInstanceDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	paths, err := EnsureInstanceDirs("ensure-test")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.Logs} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
