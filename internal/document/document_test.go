package document

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSchemasRegistered(t *testing.T) {
	scopes := Scopes()
	if len(scopes) != 9 {
		t.Fatalf("Scopes() = %v, want general + 8 applications", scopes)
	}
	if scopes[0] != "general" || scopes[1] != "sonarr" || scopes[8] != "swaparr" {
		t.Errorf("Scopes() order = %v", scopes)
	}
	if !MustLookup("radarr").MultiInstance {
		t.Error("radarr should be multi-instance")
	}
	if MustLookup("general").MultiInstance {
		t.Error("general should not be multi-instance")
	}
	got := MustLookup("general").ApplyImmediately()
	if len(got) != 2 || got[0] != "language" || got[1] != "auth_mode" {
		t.Errorf("ApplyImmediately = %v", got)
	}
}

func TestKindCanonical(t *testing.T) {
	tests := []struct {
		kind Kind
		in   any
		want any
		ok   bool
	}{
		{KindString, "x", "x", true},
		{KindString, 3, nil, false},
		{KindInt, 3, int64(3), true},
		{KindInt, float64(4), int64(4), true},
		{KindInt, 4.5, nil, false},
		{KindInt, "3", nil, false},
		{KindInt, json.Number("12"), int64(12), true},
		{KindFloat, 2, float64(2), true},
		{KindFloat, json.Number("1.5"), 1.5, true},
		{KindBool, true, true, true},
		{KindBool, "true", nil, false},
	}
	for _, tt := range tests {
		got, ok := tt.kind.Canonical(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("%s.Canonical(%#v) = %#v, %v; want %#v, %v", tt.kind, tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCheckField(t *testing.T) {
	schema := MustLookup("general")

	if v, err := schema.CheckField("api_timeout", 60); err != nil || v != int64(60) {
		t.Errorf("CheckField(api_timeout, 60) = %v, %v", v, err)
	}

	_, err := schema.CheckField("api_timeout", "60")
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "api_timeout" {
		t.Errorf("wrong kind: err = %v", err)
	}

	_, err = schema.CheckField("nonsense", 1)
	if !errors.As(err, &fieldErr) || !strings.Contains(fieldErr.Reason, "unknown") {
		t.Errorf("unknown field: err = %v", err)
	}
}

func TestDecodeSplitsFieldsInstancesExtra(t *testing.T) {
	payload := `{
		"success": true,
		"sleep_duration": 600,
		"hourly_cap": null,
		"ui_theme": {"dark": true},
		"instances": [
			{"name": "", "url": "http://nas:8989", "api_key": "k", "hunt_missing_items": 5, "legacy_flag": 1},
			{"name": "4K", "url": "http://nas:8990", "api_key": "k2", "enabled": false, "instance_id": "abc"}
		]
	}`
	doc, err := Decode(MustLookup("sonarr"), []byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if doc.Int("sleep_duration") != 600 {
		t.Errorf("sleep_duration = %v", doc.Fields["sleep_duration"])
	}
	if _, ok := doc.Field("hourly_cap"); ok {
		t.Error("null field should be absent")
	}
	if _, ok := doc.Fields["success"]; ok {
		t.Error("envelope key leaked into fields")
	}
	if _, ok := doc.Extra["success"]; ok {
		t.Error("envelope key leaked into extra")
	}
	if string(doc.Extra["ui_theme"]) != `{"dark": true}` {
		t.Errorf("Extra[ui_theme] = %s", doc.Extra["ui_theme"])
	}

	if len(doc.Instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(doc.Instances))
	}
	first := doc.Instances[0]
	if first.Name != "Instance 1" || !first.Enabled || first.Options["hunt_missing_items"] != int64(5) {
		t.Errorf("first = %+v", first)
	}
	if string(first.Extra["legacy_flag"]) != "1" {
		t.Errorf("first.Extra = %v", first.Extra)
	}
	second := doc.Instances[1]
	if second.Enabled || second.InstanceID != "abc" || second.Credential != "k2" {
		t.Errorf("second = %+v", second)
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	_, err := Decode(MustLookup("general"), []byte(`{"api_timeout": "soon"}`))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("err = %v, want FieldError", err)
	}

	_, err = Decode(MustLookup("radarr"), []byte(`{"instances": [{"monitored_only": "yes"}]}`))
	if !errors.As(err, &fieldErr) {
		t.Fatalf("option err = %v, want FieldError", err)
	}

	if _, err := Decode(MustLookup("radarr"), []byte(`[1,2]`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestEncodeRoundTripPreservesExtra(t *testing.T) {
	schema := MustLookup("radarr")
	in := `{"hourly_cap":5,"future_key":[1,2],"instances":[{"name":"Main","url":"http://x:7878","api_key":"k","enabled":true,"instance_id":"id-1","monitored_only":false,"extra_opt":"z"}]}`

	doc, err := Decode(schema, []byte(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := generic["future_key"]; !ok {
		t.Error("passthrough key dropped")
	}
	instances := generic["instances"].([]any)
	inst := instances[0].(map[string]any)
	if inst["instance_id"] != "id-1" || inst["extra_opt"] != "z" || inst["monitored_only"] != false {
		t.Errorf("instance = %v", inst)
	}

	again, err := Decode(schema, data)
	if err != nil {
		t.Fatalf("re-Decode: %v", err)
	}
	if again.Int("hourly_cap") != 5 || again.Instances[0].InstanceID != "id-1" {
		t.Errorf("re-decoded = %+v", again)
	}
}

func TestEncodeOmitsEmptyInstanceID(t *testing.T) {
	data, err := json.Marshal(NewInstance(MustLookup("sonarr"), 2))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "instance_id") {
		t.Errorf("new instance carries instance_id: %s", data)
	}
	if !strings.Contains(string(data), `"name":"Instance 2"`) {
		t.Errorf("missing default name: %s", data)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := New(MustLookup("lidarr"))
	doc.Instances = append(doc.Instances, NewInstance(MustLookup("lidarr"), 1))
	doc.Extra = map[string]json.RawMessage{"x": json.RawMessage(`1`)}

	cp := doc.Clone()
	cp.Fields["sleep_duration"] = int64(1)
	cp.Instances[0].Options["hunt_missing_items"] = int64(99)
	cp.Instances[0].Name = "changed"
	cp.Extra["x"][0] = '2'

	if doc.Int("sleep_duration") != 900 {
		t.Error("field shared with clone")
	}
	if doc.Instances[0].Options["hunt_missing_items"] != int64(1) {
		t.Error("instance options shared with clone")
	}
	if doc.Instances[0].Name != "Instance 1" {
		t.Error("instance shared with clone")
	}
	if string(doc.Extra["x"]) != "1" {
		t.Error("extra shared with clone")
	}
}

func TestRedacted(t *testing.T) {
	doc := New(MustLookup("sonarr"))
	inst := NewInstance(MustLookup("sonarr"), 1)
	inst.Credential = "abcdefghijklmnopqrstuvwxyz"
	doc.Instances = append(doc.Instances, inst)

	red := doc.Redacted()
	if red.Instances[0].Credential != redacted {
		t.Errorf("credential = %q", red.Instances[0].Credential)
	}
	if doc.Instances[0].Credential == redacted {
		t.Error("Redacted mutated the original")
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL(" http://nas:8989/ "); got != "http://nas:8989" {
		t.Errorf("NormalizeURL = %q", got)
	}
}
