package textgen

import (
	"context"
	"strings"
)

// MockClient produces deterministic canned responses for local runs
// without a backend.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) ModelInfo(_ context.Context, modelID string) (*ModelInfo, error) {
	return &ModelInfo{ModelID: modelID, MaxSequenceLength: 4096, MaxNewTokens: 512}, nil
}

func (m *MockClient) Tokenize(_ context.Context, _ string, inputs []string) ([]TokenizeResult, error) {
	results := make([]TokenizeResult, 0, len(inputs))
	for _, input := range inputs {
		tokens := strings.Fields(input)
		results = append(results, TokenizeResult{Tokens: tokens, TokenCount: len(tokens)})
	}
	return results, nil
}

func (m *MockClient) Generate(_ context.Context, _ string, inputs []string, _ Parameters, _ Options) ([]map[string]any, error) {
	entries := make([]map[string]any, 0, len(inputs))
	for _, input := range inputs {
		text := mockCompletion(input)
		entries = append(entries, map[string]any{
			"text":             text,
			"finish_reason":    "stop",
			"generated_tokens": len(strings.Fields(text)),
		})
	}
	return entries, nil
}

func (m *MockClient) GenerateStream(_ context.Context, _ string, input string, _ Parameters, _ Options) (ChunkStream, error) {
	words := strings.Fields(mockCompletion(input))
	entries := make([]map[string]any, 0, len(words))
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}
		entry := map[string]any{"text": chunk}
		if i == len(words)-1 {
			entry["finish_reason"] = "stop"
			entry["generated_tokens"] = len(words)
		}
		entries = append(entries, entry)
	}
	return &sliceChunkStream{entries: entries}, nil
}

func mockCompletion(input string) string {
	return "[mock completion for " + strings.TrimSpace(input) + "]"
}
