package mcp

import "encoding/json"

// Method is a method identifier used in JSON-RPC messages.
type Method string

// Method names and notifications.
const (
	// Initialization
	InitializeMethod              Method = "initialize"
	CapabilitiesMethod            Method = "capabilities"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools
	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	// Resources
	ResourcesListMethod Method = "resources/list"
	ResourcesReadMethod Method = "resources/read"

	// Prompts
	PromptsListMethod Method = "prompts/list"
	PromptsGetMethod  Method = "prompts/get"

	// Model requests
	CompletionMethod Method = "completion"
	SamplingMethod   Method = "sampling"

	// Sessions
	SessionsListMethod  Method = "sessions/list"
	SessionsGetMethod   Method = "sessions/get"
	SessionsCloseMethod Method = "sessions/close"

	// General
	HealthMethod                Method = "health"
	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
	ProgressNotificationMethod  Method = "notifications/progress"
)

// ProgressToken is an identifier used to correlate progress updates.
// It may be a string or number.
type ProgressToken any // string | number

// CancelledNotification informs the server that a request was abandoned.
type CancelledNotification struct {
	RequestID any    `json:"requestId"` // string | number
	Reason    string `json:"reason,omitzero"`
}

// ProgressNotificationParams conveys progress of a long-running operation.
type ProgressNotificationParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitzero"`
}

// Notification is a one-way message posted outside of a JSON-RPC envelope.
type Notification struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitzero"`
}

// InitializeRequest starts a session.
type InitializeRequest struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    *RequestedCapabilities `json:"capabilities,omitempty"`
	ClientInfo      ImplementationInfo     `json:"clientInfo"`
	// OwnerRef names the external user the session acts for. Transports that
	// authenticate callers overwrite it with the authenticated subject.
	OwnerRef string `json:"ownerRef,omitzero"`
	// AgentID optionally tags the session with the agent driving it.
	AgentID string `json:"agentId,omitzero"`
}

// InitializeResult returns the new session with negotiated capabilities.
type InitializeResult struct {
	SessionID       string             `json:"sessionId"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    Capabilities       `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
}

// CapabilitiesResult is the session-less description of the server.
type CapabilitiesResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    Capabilities       `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Tools           []Tool             `json:"tools"`
}

// SessionRequest is the parameter shape of methods scoped to a session only.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Tools
// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest invokes a named tool.
type CallToolRequest struct {
	SessionID string          `json:"sessionId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool invocation. IsError marks a
// failure that happened inside the tool and is reported as data.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	IsError           bool           `json:"isError,omitzero"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
}

// Resources
// ListResourcesResult returns the registered resources.
type ListResourcesResult struct {
	Resources         []Resource         `json:"resources"`
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates,omitempty"`
}

// ReadResourceRequest reads one resource by URI.
type ReadResourceRequest struct {
	SessionID string `json:"sessionId"`
	URI       string `json:"uri"`
}

// ReadResourceResult wraps the contents of a resource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Prompts
// ListPromptsResult returns the registered prompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptRequest renders a prompt with arguments.
type GetPromptRequest struct {
	SessionID string            `json:"sessionId,omitzero"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// GetPromptResult is a rendered prompt.
type GetPromptResult struct {
	Description string          `json:"description,omitzero"`
	Messages    []PromptMessage `json:"messages"`
}

// Completion
// CompletionRequest asks for argument suggestions (Ref set) or for a model
// completion over Messages.
type CompletionRequest struct {
	SessionID   string               `json:"sessionId"`
	Ref         *CompletionReference `json:"ref,omitempty"`
	Argument    *CompleteArgument    `json:"argument,omitempty"`
	Messages    []SamplingMessage    `json:"messages,omitempty"`
	Provider    string               `json:"provider,omitzero"`
	Model       string               `json:"model,omitzero"`
	MaxTokens   int                  `json:"maxTokens,omitzero"`
	Temperature *float64             `json:"temperature,omitempty"`
}

// CompletionResult carries either argument suggestions or model output.
type CompletionResult struct {
	Completion *Completion `json:"completion,omitempty"`
	Content    string      `json:"content,omitzero"`
	Model      string      `json:"model,omitzero"`
	Provider   string      `json:"provider,omitzero"`
	Usage      *Usage      `json:"usage,omitempty"`
}

// Sampling
// CreateMessageRequest asks a model backend to produce the next message.
type CreateMessageRequest struct {
	SessionID        string            `json:"sessionId"`
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitzero"`
	Provider         string            `json:"provider,omitzero"`
	Model            string            `json:"model,omitzero"`
	MaxTokens        int               `json:"maxTokens,omitzero"`
	Temperature      *float64          `json:"temperature,omitempty"`
}

// CreateMessageResult is the sampled message.
type CreateMessageResult struct {
	Role       Role         `json:"role"`
	Content    ContentBlock `json:"content"`
	Model      string       `json:"model"`
	Provider   string       `json:"provider,omitzero"`
	StopReason string       `json:"stopReason,omitzero"`
	Usage      *Usage       `json:"usage,omitempty"`
}

// Sessions
// ListSessionsRequest pages through all sessions, closed ones included.
type ListSessionsRequest struct {
	Skip  int `json:"skip,omitzero"`
	Limit int `json:"limit,omitzero"`
}

// ListSessionsResult is one page of sessions.
type ListSessionsResult struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
	Skip     int           `json:"skip"`
	Limit    int           `json:"limit"`
}

// CloseSessionResult reports whether this call performed the transition.
type CloseSessionResult struct {
	Closed bool `json:"closed"`
}
