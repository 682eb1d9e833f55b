package dirty

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/arrdeck/arrdeck/internal/document"
)

func sonarrDoc(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.Decode(document.MustLookup("sonarr"), []byte(`{
		"sleep_duration": 900,
		"ui": {"a": 1, "b": [1, 2]},
		"instances": [{"name": "Main", "url": "http://nas:8989", "api_key": "key", "enabled": true, "instance_id": "i1", "hunt_missing_items": 1}]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func TestTrackerCleanAfterArm(t *testing.T) {
	t.Parallel()
	schema := document.MustLookup("sonarr")
	tr := New(schema)
	base := sonarrDoc(t)

	if tr.IsDirty(base) {
		t.Error("unarmed tracker should not be dirty")
	}
	tr.Arm(base)
	if tr.IsDirty(base.Clone()) {
		t.Error("identical copy reported dirty")
	}

	base.Fields["sleep_duration"] = int64(60)
	if tr.Baseline().Int("sleep_duration") != 900 {
		t.Error("Arm did not deep copy the baseline")
	}
}

func TestTrackerDetectsEdits(t *testing.T) {
	t.Parallel()
	schema := document.MustLookup("sonarr")

	tests := []struct {
		name   string
		mutate func(*document.Document)
		path   string
	}{
		{"field", func(d *document.Document) { d.Fields["sleep_duration"] = int64(901) }, "sleep_duration"},
		{"no coercion", func(d *document.Document) { d.Fields["sleep_duration"] = "900" }, "sleep_duration"},
		{"instance url", func(d *document.Document) { d.Instances[0].URL = "http://nas:9999" }, "instances[0].url"},
		{"instance option", func(d *document.Document) { d.Instances[0].Options["hunt_missing_items"] = int64(2) }, "instances[0].options.hunt_missing_items"},
		{"instance added", func(d *document.Document) {
			d.Instances = append(d.Instances, document.NewInstance(schema, 2))
		}, "instances.length"},
		{"extra", func(d *document.Document) { d.Extra["ui"] = json.RawMessage(`{"a":2}`) }, "extra.ui"},
		{"field removed", func(d *document.Document) { delete(d.Fields, "sleep_duration") }, "sleep_duration"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := New(schema)
			base := sonarrDoc(t)
			tr.Arm(base)

			live := base.Clone()
			tt.mutate(live)
			if !tr.IsDirty(live) {
				t.Fatal("edit not detected")
			}
			if got := tr.Changes(live); len(got) != 1 || got[0] != tt.path {
				t.Errorf("Changes = %v, want [%s]", got, tt.path)
			}
		})
	}
}

func TestExtraKeyOrderInsignificant(t *testing.T) {
	t.Parallel()
	schema := document.MustLookup("sonarr")
	tr := New(schema)
	base := sonarrDoc(t)
	tr.Arm(base)

	live := base.Clone()
	live.Extra["ui"] = json.RawMessage(`{ "b": [1,2], "a": 1 }`)
	if tr.IsDirty(live) {
		t.Errorf("reordered keys reported dirty: %v", tr.Changes(live))
	}
}

func TestAbsentEqualsEmptyOnlyWhenDeclared(t *testing.T) {
	t.Parallel()
	schema := document.MustLookup("general")

	base := &document.Document{Scope: "general", Fields: map[string]any{}}
	tr := New(schema)
	tr.Arm(base)

	// base_url declares absent == "".
	live := base.Clone()
	live.Fields["base_url"] = ""
	if tr.IsDirty(live) {
		t.Error("empty base_url should equal absent")
	}

	live.Fields["base_url"] = "/huntarr"
	if !tr.IsDirty(live) {
		t.Error("non-empty base_url should be dirty")
	}

	// timezone does not declare it, so presence matters.
	live = base.Clone()
	live.Fields["timezone"] = ""
	if !tr.IsDirty(live) {
		t.Error("presence of timezone should matter")
	}
}

func TestMarkDirtyImmediately(t *testing.T) {
	t.Parallel()
	tr := New(document.MustLookup("sonarr"))
	base := sonarrDoc(t)
	tr.Arm(base)

	tr.MarkDirtyImmediately()
	if !tr.IsDirty(base) {
		t.Error("forced flag ignored")
	}
	tr.ReArm(base)
	if tr.IsDirty(base) {
		t.Error("ReArm should clear the forced flag")
	}
}

func TestDiscardRoundTrip(t *testing.T) {
	t.Parallel()
	schema := document.MustLookup("sonarr")
	tr := New(schema)
	base := sonarrDoc(t)
	tr.Arm(base)

	live := base.Clone()
	live.Fields["hourly_cap"] = int64(3)
	live.Instances[0].Name = "Renamed"
	live.Instances = append(live.Instances, document.NewInstance(schema, 2))
	if !tr.IsDirty(live) {
		t.Fatal("edits not detected")
	}

	live = tr.Baseline()
	if tr.IsDirty(live) {
		t.Errorf("restored baseline still dirty: %v", tr.Changes(live))
	}
	if !reflect.DeepEqual(live, base) {
		t.Error("restored document differs from original baseline")
	}
}

func TestDiffNil(t *testing.T) {
	schema := document.MustLookup("general")
	if got := Diff(schema, nil, nil); got != nil {
		t.Errorf("Diff(nil, nil) = %v", got)
	}
	if !reflect.DeepEqual(Diff(schema, nil, document.New(schema)), []string{"document"}) {
		t.Error("nil vs document should differ")
	}
}
