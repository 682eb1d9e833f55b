package poller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Summary is a read-only view over an arbitrary status payload. Lookups of
// missing or mistyped values report ok=false instead of failing.
type Summary struct {
	root any
}

// ParseSummary decodes raw. Invalid JSON yields an empty summary.
func ParseSummary(raw json.RawMessage) Summary {
	if len(raw) == 0 {
		return Summary{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return Summary{}
	}
	return Summary{root: root}
}

// Empty reports whether the summary holds no data.
func (s Summary) Empty() bool { return s.root == nil }

// Lookup walks path through objects (by key) and arrays (by index).
func (s Summary) Lookup(path ...string) (any, bool) {
	cur := s.root
	for _, step := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[step]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(step)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Text renders the value at path, or placeholder when it is missing.
func (s Summary) Text(placeholder string, path ...string) string {
	v, ok := s.Lookup(path...)
	if !ok {
		return placeholder
	}
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return placeholder
		}
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	}
	return placeholder
}

// Int returns the integer at path. Integral strings are accepted since
// several endpoints quote their counters.
func (s Summary) Int(path ...string) (int64, bool) {
	v, ok := s.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Bool returns the boolean at path.
func (s Summary) Bool(path ...string) (bool, bool) {
	v, ok := s.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Health is a connection badge.
type Health string

const (
	HealthConnected    Health = "connected"
	HealthDisconnected Health = "disconnected"
	HealthDisabled     Health = "disabled"
	HealthUnknown      Health = "unknown"
)

// Health reads the connection badge at path; an empty path reads the
// payload root, as per-application status endpoints return it. The entry
// may be a bare boolean or an object with connected/configured/enabled flags.
func (s Summary) Health(path ...string) Health {
	v, ok := s.Lookup(path...)
	if !ok {
		return HealthUnknown
	}
	if b, ok := v.(bool); ok {
		if b {
			return HealthConnected
		}
		return HealthDisconnected
	}
	if _, ok := v.(map[string]any); !ok {
		return HealthUnknown
	}
	for _, key := range []string{"enabled", "configured"} {
		if on, ok := s.Bool(append(path[:len(path):len(path)], key)...); ok && !on {
			return HealthDisabled
		}
	}
	if connected, ok := s.Bool(append(path[:len(path):len(path)], "connected")...); ok {
		if connected {
			return HealthConnected
		}
		return HealthDisconnected
	}
	return HealthUnknown
}

// Countdown is a timer towards a server-computed instant, such as a
// retention expiry or a state reset.
type Countdown struct {
	Expires time.Time
}

// Remaining returns the time left, never negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	if c.Expires.IsZero() {
		return 0
	}
	d := c.Expires.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Expired reports whether the instant has passed.
func (c Countdown) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// Format renders the remaining time as "1d 4h 10m", or "0m" when expired.
func (c Countdown) Format(now time.Time) string {
	d := c.Remaining(now)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	parts = append(parts, fmt.Sprintf("%dm", minutes))
	return strings.Join(parts, " ")
}

var countdownKeys = []string{"expires_at", "reset_time", "next_reset", "expiration"}

// Countdown reads the instant at path. It may be an RFC 3339 string, a
// unix timestamp in seconds, or an object holding either under one of
// expires_at, reset_time, next_reset or expiration.
func (s Summary) Countdown(path ...string) (Countdown, bool) {
	v, ok := s.Lookup(path...)
	if !ok {
		return Countdown{}, false
	}
	if _, isObject := v.(map[string]any); isObject {
		for _, key := range countdownKeys {
			if c, ok := s.Countdown(append(append([]string(nil), path...), key)...); ok {
				return c, true
			}
		}
		return Countdown{}, false
	}
	switch val := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(val)); err == nil {
			return Countdown{Expires: t}, true
		}
	case json.Number:
		if secs, err := val.Int64(); err == nil && secs > 0 {
			return Countdown{Expires: time.Unix(secs, 0)}, true
		}
	}
	return Countdown{}, false
}

// Stats is the per-application activity counter pair.
type Stats struct {
	Hunted   int64
	Upgraded int64
}

// Stats reads the counters for app; missing counters are zero.
func (s Summary) Stats(app string) Stats {
	hunted, _ := s.Int(app, "hunted")
	upgraded, _ := s.Int(app, "upgraded")
	return Stats{Hunted: hunted, Upgraded: upgraded}
}
