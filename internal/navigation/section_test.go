package navigation

import "testing"

func TestParseSection(t *testing.T) {
	t.Parallel()
	valid := []string{"home", "settings", "app:sonarr", "editor:radarr:0", "editor:eros:new", " app:swaparr "}
	for _, raw := range valid {
		if _, err := ParseSection(raw); err != nil {
			t.Errorf("ParseSection(%q): %v", raw, err)
		}
	}
	invalid := []string{"", "app", "app:plex", "editor:sonarr", "editor:sonarr:-1", "editor:sonarr:9", "editor:sonarr:x", "dashboard", "app:sonarr:1"}
	for _, raw := range invalid {
		if _, err := ParseSection(raw); err == nil {
			t.Errorf("ParseSection(%q) accepted", raw)
		}
	}
}

func TestSectionParts(t *testing.T) {
	t.Parallel()
	s := EditorSection("lidarr", 2)
	if s != "editor:lidarr:2" || s.Kind() != KindEditor || s.App() != "lidarr" {
		t.Fatalf("section %s kind %s app %s", s, s.Kind(), s.App())
	}
	if i, ok := s.Index(); !ok || i != 2 {
		t.Fatalf("Index = %d, %v", i, ok)
	}
	if _, ok := EditorSection("lidarr", -1).Index(); ok {
		t.Fatal("new-instance editor has no index")
	}
	if AppSection("sonarr").Kind() != KindApp || Home.Kind() != KindHome || Home.App() != "" {
		t.Fatal("kind/app mismatch")
	}
}

func TestParseDecision(t *testing.T) {
	t.Parallel()
	for raw, want := range map[string]Decision{"save": Save, "discard": Discard, "stay": Stay, "": Stay, "maybe": Stay} {
		if got := ParseDecision(raw); got != want {
			t.Errorf("ParseDecision(%q) = %s", raw, got)
		}
	}
}
