package protocol

import "time"

// GenerateRequest asks the bridge for one text generation.
type GenerateRequest struct {
	RequestID string         `json:"request_id"`
	Input     string         `json:"input"`
	Guided    map[string]any `json:"guided,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// GenerateChunk carries streamed generation output. Partial chunks hold
// the incremental text; the final chunk holds the accumulated result.
type GenerateChunk struct {
	RequestID string         `json:"request_id"`
	ModelID   string         `json:"model_id"`
	Text      string         `json:"text"`
	Partial   bool           `json:"partial"`
	Meta      map[string]any `json:"meta,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// GenerateError reports a failed generation with enough information for
// the caller to decide whether to retry.
type GenerateError struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Code      int    `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id,omitempty"`
}

// TokenizeRequest asks for tokenization of one input (request/reply).
type TokenizeRequest struct {
	RequestID string `json:"request_id"`
	Input     string `json:"input"`
}

// TokenizeReply answers a TokenizeRequest.
type TokenizeReply struct {
	RequestID  string   `json:"request_id"`
	Tokens     []string `json:"tokens,omitempty"`
	TokenCount int      `json:"token_count"`
	Error      string   `json:"error,omitempty"`
}

// ModelAnnounce advertises the models a node serves.
type ModelAnnounce struct {
	NodeID    string    `json:"node_id"`
	Role      string    `json:"role"`
	Models    []string  `json:"models"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelHeartbeat keeps an announced node alive in peer registries.
type ModelHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGenerateRequest         = "textgen.generate.request"
	SubjectGenerateResponsePartial = "textgen.generate.response.partial"
	SubjectGenerateResponseFinal   = "textgen.generate.response.final"
	SubjectGenerateResponseError   = "textgen.generate.response.error"
	SubjectTokenizeRequest         = "textgen.tokenize.request"
	SubjectModelAnnounce           = "ctrl.model.announce"
	SubjectModelHeartbeatPrefix    = "ctrl.model.heartbeat"
)
