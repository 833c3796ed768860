package textgen

import (
	"context"
	"errors"
	"io"
)

// Adapter exposes a remote text-generation service through a uniform
// local abstraction. It prepares requests, processes one logical call's
// results and classifies failures; retries are the caller's business.
type Adapter struct {
	modelID string
	params  Parameters
	opts    Options
	client  Client
}

// New builds an adapter bound to a live backend client.
func New(modelID string, params Parameters, opts Options, client Client) (*Adapter, error) {
	if modelID == "" {
		return nil, errors.New("model id must not be empty")
	}
	if client == nil {
		return nil, errors.New("backend client must not be nil")
	}
	return &Adapter{modelID: modelID, params: params.clone(), opts: opts, client: client}, nil
}

// ModelID returns the identifier of the served model.
func (a *Adapter) ModelID() string { return a.modelID }

// Parameters returns a copy of the base generation parameters.
func (a *Adapter) Parameters() Parameters { return a.params.clone() }

// ModelInfo queries remote model metadata.
func (a *Adapter) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	info, err := a.client.ModelInfo(ctx, a.modelID)
	if err != nil {
		return nil, Classify(err)
	}
	return info, nil
}

// Tokenize sends a single-item batched tokenize request and returns
// the tokens and token count for the input.
func (a *Adapter) Tokenize(ctx context.Context, input string) (*TokenizeResult, error) {
	results, err := a.client.Tokenize(ctx, a.modelID, []string{input})
	if err != nil {
		return nil, Classify(err)
	}
	if len(results) == 0 {
		return nil, &ValidationError{Kind: KindMissingOutput, Message: "tokenize response contained no entries"}
	}
	result := results[0]
	return &result, nil
}

// Generate runs one unary generation call. The override, if any, is
// resolved against the base parameters before the request is sent.
func (a *Adapter) Generate(ctx context.Context, input string, override GuidedOverride) (*Generation, error) {
	params, err := ResolveParameters(a.params, override)
	if err != nil {
		return nil, err
	}
	entries, err := a.client.Generate(ctx, a.modelID, []string{input}, params, a.opts)
	if err != nil {
		return nil, Classify(err)
	}
	if len(entries) == 0 {
		return nil, &ValidationError{Kind: KindMissingOutput, Message: "generate response contained no entries"}
	}
	return generationFromEntry(entries[0]), nil
}

// GenerateStream opens a server-streamed generation call and returns a
// lazy, finite, non-restartable sequence of result chunks.
func (a *Adapter) GenerateStream(ctx context.Context, input string, override GuidedOverride) (*Stream, error) {
	params, err := ResolveParameters(a.params, override)
	if err != nil {
		return nil, err
	}
	chunks, err := a.client.GenerateStream(ctx, a.modelID, input, params, a.opts)
	if err != nil {
		return nil, Classify(err)
	}
	return &Stream{chunks: chunks}, nil
}

// generationFromEntry splits a raw response entry into generated text
// and the remaining fields, which ride along as opaque meta.
func generationFromEntry(entry map[string]any) *Generation {
	text, _ := entry["text"].(string)
	var meta map[string]any
	if len(entry) > 0 {
		meta = make(map[string]any, len(entry))
		for k, v := range entry {
			if k == "text" {
				continue
			}
			meta[k] = v
		}
		if len(meta) == 0 {
			meta = nil
		}
	}
	return &Generation{Text: text, Meta: meta}
}

// Stream is one streaming generation attempt. It is not restartable;
// once Recv returns an error or io.EOF the attempt is over.
type Stream struct {
	chunks ChunkStream
	done   bool
}

// Recv blocks for the next non-empty chunk. Chunks with empty text are
// dropped: the upstream repetition checker emits them as placeholders.
// Returns io.EOF once the stream completes normally.
func (s *Stream) Recv() (*Generation, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		entry, err := s.chunks.Recv()
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, Classify(err)
		}
		chunk := generationFromEntry(entry)
		if chunk.Text == "" {
			continue
		}
		return chunk, nil
	}
}

// Close releases the underlying stream.
func (s *Stream) Close() error {
	s.done = true
	return s.chunks.Close()
}
