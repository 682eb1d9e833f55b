package eventbus

import (
	"encoding/json"
	"time"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicNavigationChanged Topic = "navigation.changed"
	TopicSessionState      Topic = "session.state"
	TopicSessionSaved      Topic = "session.saved"
	TopicValidationResult  Topic = "validation.result"
	TopicStatusUpdated     Topic = "status.updated"
	TopicNotification      Topic = "notification"
)

// Source describes which component produced an event.
type Source string

const (
	SourceNavigation Source = "navigation"
	SourceSession    Source = "session"
	SourceValidator  Source = "validator"
	SourcePoller     Source = "poller"
	SourceBridge     Source = "bridge"
	SourceDashboard  Source = "dashboard"
	SourceUnknown    Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// NavigationChangedEvent reports a completed section transition.
type NavigationChangedEvent struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	// FirstEntry is set when the target section ran its init routine.
	FirstEntry bool `json:"first_entry"`
}

// SessionStateEvent reports a configuration session state change.
type SessionStateEvent struct {
	Scope    string `json:"scope"`
	State    string `json:"state"`
	Previous string `json:"previous"`
	Dirty    bool   `json:"dirty"`
	Error    string `json:"error,omitempty"`
}

// SessionSavedEvent reports a save the backend accepted.
type SessionSavedEvent struct {
	Scope string `json:"scope"`
	// Normalized lists paths where the server's document differs from what
	// was submitted.
	Normalized []string `json:"normalized,omitempty"`
	// StillDirty is set when edits made during the save were kept.
	StillDirty bool `json:"still_dirty"`
}

// ValidationResultEvent carries a connection test outcome for one field key.
type ValidationResultEvent struct {
	Key     string `json:"key"`
	Scope   string `json:"scope"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusUpdatedEvent carries a poller snapshot.
type StatusUpdatedEvent struct {
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Stale     bool            `json:"stale"`
	Error     string          `json:"error,omitempty"`
}

// NotificationLevel grades user-visible notifications.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// NotificationEvent is one user-visible message. Every terminal failure
// produces exactly one.
type NotificationEvent struct {
	Level   NotificationLevel `json:"level"`
	Scope   string            `json:"scope,omitempty"`
	Message string            `json:"message"`
}

// Typed topic descriptors, grouped by producer.
var Navigation = struct {
	Changed TopicDef[NavigationChangedEvent]
}{
	Changed: NewTopicDef[NavigationChangedEvent](TopicNavigationChanged),
}

var Sessions = struct {
	State TopicDef[SessionStateEvent]
	Saved TopicDef[SessionSavedEvent]
}{
	State: NewTopicDef[SessionStateEvent](TopicSessionState),
	Saved: NewTopicDef[SessionSavedEvent](TopicSessionSaved),
}

var Validation = struct {
	Result TopicDef[ValidationResultEvent]
}{
	Result: NewTopicDef[ValidationResultEvent](TopicValidationResult),
}

var Status = struct {
	Updated TopicDef[StatusUpdatedEvent]
}{
	Updated: NewTopicDef[StatusUpdatedEvent](TopicStatusUpdated),
}

var Notifications = struct {
	Notify TopicDef[NotificationEvent]
}{
	Notify: NewTopicDef[NotificationEvent](TopicNotification),
}

// AllTopics lists every topic in a stable order.
var AllTopics = []Topic{
	TopicNavigationChanged,
	TopicSessionState,
	TopicSessionSaved,
	TopicValidationResult,
	TopicStatusUpdated,
	TopicNotification,
}
