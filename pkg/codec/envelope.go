package codec

import (
	"encoding/json"
	"time"
)

// Capability advertises a client feature to the service.
type Capability struct {
	Type string `json:"type"`
}

// DefaultCapabilities are the feature flags sent with every request.
var DefaultCapabilities = []Capability{
	{Type: "NC"}, // color support
	{Type: "PI"}, // pinned support
	{Type: "LB"}, // labels support
	{Type: "AN"}, // annotations support
	{Type: "SH"}, // sharing support
	{Type: "DR"}, // drawing support
	{Type: "TR"}, // trash support
	{Type: "IN"}, // indentation support
	{Type: "SNB"},
	{Type: "MI"},
	{Type: "CO"},
}

// RequestHeader identifies the client session.
type RequestHeader struct {
	ClientSessionID string       `json:"clientSessionId"`
	ClientPlatform  string       `json:"clientPlatform"`
	ClientVersion   string       `json:"clientVersion,omitempty"`
	Capabilities    []Capability `json:"capabilities"`
}

// UserInfo carries the label registry.
type UserInfo struct {
	Labels []json.RawMessage `json:"labels"`
}

// ChangesRequest pushes local changes and asks for remote ones since
// TargetVersion. An empty TargetVersion asks for everything.
type ChangesRequest struct {
	Nodes           []json.RawMessage `json:"nodes"`
	ClientTimestamp string            `json:"clientTimestamp"`
	RequestHeader   RequestHeader     `json:"requestHeader"`
	TargetVersion   string            `json:"targetVersion,omitempty"`
	UserInfo        *UserInfo         `json:"userInfo,omitempty"`
}

// NewChangesRequest stamps a request with the current time.
func NewChangesRequest(header RequestHeader, target string, now time.Time) *ChangesRequest {
	return &ChangesRequest{
		Nodes:           []json.RawMessage{},
		ClientTimestamp: FormatTime(now),
		RequestHeader:   header,
		TargetVersion:   target,
	}
}

// ChangesResponse is the service's answer to a ChangesRequest.
type ChangesResponse struct {
	Nodes              []json.RawMessage `json:"nodes"`
	UserInfo           *UserInfo         `json:"userInfo,omitempty"`
	ToVersion          string            `json:"toVersion"`
	Truncated          bool              `json:"truncated,omitempty"`
	ForceFullResync    bool              `json:"forceFullResync,omitempty"`
	UpgradeRecommended bool              `json:"upgradeRecommended,omitempty"`
}
