package textgen

import "context"

// ModelInfo describes the remote model being served.
type ModelInfo struct {
	ModelID           string
	MaxSequenceLength int
	MaxNewTokens      int
}

// TokenizeResult is one entry of a batched tokenize response.
type TokenizeResult struct {
	Tokens     []string
	TokenCount int
}

// ChunkStream yields raw response chunks from a streaming generate
// call. Recv returns io.EOF when the stream is exhausted.
type ChunkStream interface {
	Recv() (map[string]any, error)
	Close() error
}

// Client is the remote text-generation backend. Implementations own
// transport concerns; errors they return may carry a gRPC status code,
// which the adapter uses for retryability classification.
type Client interface {
	ModelInfo(ctx context.Context, modelID string) (*ModelInfo, error)
	Tokenize(ctx context.Context, modelID string, inputs []string) ([]TokenizeResult, error)
	Generate(ctx context.Context, modelID string, inputs []string, params Parameters, opts Options) ([]map[string]any, error)
	GenerateStream(ctx context.Context, modelID string, input string, params Parameters, opts Options) (ChunkStream, error)
}

// ClientProvider rebuilds a live client, used when restoring persisted
// adapter state. The client handle itself is never persisted.
type ClientProvider func(ctx context.Context) (Client, error)
