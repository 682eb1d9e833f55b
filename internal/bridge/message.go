package bridge

import (
	"encoding/json"
	"time"
)

// Message is one WebSocket frame in either direction.
type Message struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inbound is a client frame before its payload is decoded.
type inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound message types. Bus events use their topic name as type.
const (
	TypeHello            = "hello"
	TypeResult           = "result"
	TypeError            = "error"
	TypeNavigationPrompt = "navigation.prompt"
)

// Inbound command types.
const (
	CmdNavigate         = "navigate"
	CmdEdit             = "edit"
	CmdInstanceAdd      = "instance.add"
	CmdInstanceRemove   = "instance.remove"
	CmdInstanceUpdate   = "instance.update"
	CmdInstanceValidate = "instance.validate"
	CmdSave             = "save"
	CmdDiscard          = "discard"
	CmdSessionGet       = "session.get"
	CmdSessionTouch     = "session.touch"
	CmdSessionReload    = "session.reload"
	CmdPromptDecision   = "prompt.decision"
)

// ErrorResponse is the error payload of HTTP responses and error frames.
type ErrorResponse struct {
	Error string `json:"error"`
}

type helloPayload struct {
	ClientID string `json:"client_id"`
	Section  string `json:"section,omitempty"`
}

type navigateRequest struct {
	Section string `json:"section"`
}

type navigateResult struct {
	Outcome string `json:"outcome"`
	Section string `json:"section"`
	Error   string `json:"error,omitempty"`
}

type scopeRequest struct {
	Scope string `json:"scope"`
}

type editRequest struct {
	Scope string      `json:"scope"`
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

type instanceRequest struct {
	Scope string `json:"scope"`
	Index int    `json:"index"`
}

type instanceUpdateRequest struct {
	Scope      string                 `json:"scope"`
	Index      int                    `json:"index"`
	Name       *string                `json:"name,omitempty"`
	URL        *string                `json:"url,omitempty"`
	Credential *string                `json:"api_key,omitempty"`
	Enabled    *bool                  `json:"enabled,omitempty"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

type indexResult struct {
	Scope string `json:"scope"`
	Index int    `json:"index"`
}

type sessionView struct {
	Scope    string          `json:"scope"`
	State    string          `json:"state"`
	Dirty    bool            `json:"dirty"`
	Changes  []string        `json:"changes,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type saveResult struct {
	Scope      string `json:"scope"`
	StillDirty bool   `json:"still_dirty"`
}

type validateResult struct {
	Key        string `json:"key"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Version    string `json:"version,omitempty"`
	Message    string `json:"message,omitempty"`
	Superseded bool   `json:"superseded,omitempty"`
}

type promptPayload struct {
	PromptID string   `json:"prompt_id"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Scopes   []string `json:"scopes"`
}

type decisionRequest struct {
	PromptID string `json:"prompt_id"`
	Decision string `json:"decision"`
}
