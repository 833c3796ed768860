package textgen

import (
	"context"
	"errors"
	"io"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeClient is a scripted backend for adapter tests. It records the
// parameters of the last call so tests can assert on resolution.
type fakeClient struct {
	info            *ModelInfo
	infoErr         error
	tokenizeResults []TokenizeResult
	tokenizeErr     error
	generateEntries []map[string]any
	generateErr     error
	streamEntries   []map[string]any
	streamOpenErr   error
	streamRecvErr   error

	lastParams Parameters
	lastInputs []string
}

func (f *fakeClient) ModelInfo(ctx context.Context, modelID string) (*ModelInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeClient) Tokenize(ctx context.Context, modelID string, inputs []string) ([]TokenizeResult, error) {
	f.lastInputs = inputs
	return f.tokenizeResults, f.tokenizeErr
}

func (f *fakeClient) Generate(ctx context.Context, modelID string, inputs []string, params Parameters, opts Options) ([]map[string]any, error) {
	f.lastInputs = inputs
	f.lastParams = params
	return f.generateEntries, f.generateErr
}

func (f *fakeClient) GenerateStream(ctx context.Context, modelID string, input string, params Parameters, opts Options) (ChunkStream, error) {
	f.lastParams = params
	if f.streamOpenErr != nil {
		return nil, f.streamOpenErr
	}
	return &fakeChunkStream{entries: f.streamEntries, recvErr: f.streamRecvErr}, nil
}

type fakeChunkStream struct {
	entries []map[string]any
	recvErr error
	closed  bool
}

func (s *fakeChunkStream) Recv() (map[string]any, error) {
	if len(s.entries) == 0 {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, io.EOF
	}
	entry := s.entries[0]
	s.entries = s.entries[1:]
	return entry, nil
}

func (s *fakeChunkStream) Close() error {
	s.closed = true
	return nil
}

func newTestAdapter(t *testing.T, client Client) *Adapter {
	t.Helper()
	adapter, err := New("test-model", Parameters{MaxNewTokens: 64}, Options{}, client)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New("", Parameters{}, Options{}, &fakeClient{}); err == nil {
		t.Fatalf("expected error for empty model id")
	}
	if _, err := New("m", Parameters{}, Options{}, nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestTokenizeSingleEntry(t *testing.T) {
	client := &fakeClient{tokenizeResults: []TokenizeResult{{Tokens: []string{"a", "b"}, TokenCount: 2}}}
	adapter := newTestAdapter(t, client)

	result, err := adapter.Tokenize(context.Background(), "a b")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if result.TokenCount != 2 || len(result.Tokens) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(client.lastInputs) != 1 || client.lastInputs[0] != "a b" {
		t.Fatalf("expected single-item batch, got %v", client.lastInputs)
	}
}

func TestTokenizeEmptyResponse(t *testing.T) {
	adapter := newTestAdapter(t, &fakeClient{})

	_, err := adapter.Tokenize(context.Background(), "hi")
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Kind != KindMissingOutput {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestGenerateSplitsTextFromMeta(t *testing.T) {
	client := &fakeClient{generateEntries: []map[string]any{{
		"text":             "hello",
		"finish_reason":    "stop",
		"generated_tokens": float64(5),
	}}}
	adapter := newTestAdapter(t, client)

	gen, err := adapter.Generate(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Text != "hello" {
		t.Fatalf("unexpected text: %q", gen.Text)
	}
	if _, ok := gen.Meta["text"]; ok {
		t.Fatalf("text must not ride along in meta")
	}
	if gen.Meta["finish_reason"] != "stop" {
		t.Fatalf("unexpected meta: %v", gen.Meta)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	adapter := newTestAdapter(t, &fakeClient{})

	_, err := adapter.Generate(context.Background(), "hi", nil)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Kind != KindMissingOutput {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestGenerateResolvesOverride(t *testing.T) {
	client := &fakeClient{generateEntries: []map[string]any{{"text": "ok"}}}
	adapter := newTestAdapter(t, client)

	if _, err := adapter.Generate(context.Background(), "hi", GuidedOverride{"grammar": "root ::= v"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if client.lastParams.Decoding == nil || client.lastParams.Decoding.Grammar != "root ::= v" {
		t.Fatalf("override not applied: %+v", client.lastParams.Decoding)
	}
	if client.lastParams.MaxNewTokens != 64 {
		t.Fatalf("base parameters must pass through: %+v", client.lastParams)
	}
	if adapter.Parameters().Decoding != nil {
		t.Fatalf("per-call override must not stick to the adapter")
	}
}

func TestGenerateRejectsBadOverride(t *testing.T) {
	adapter := newTestAdapter(t, &fakeClient{})

	_, err := adapter.Generate(context.Background(), "hi", GuidedOverride{"mystery": 1})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Kind != KindUnsupportedConstraint {
		t.Fatalf("expected unsupported constraint error, got %v", err)
	}
}

func TestGenerateClassifiesClientErrors(t *testing.T) {
	client := &fakeClient{generateErr: status.Error(codes.DeadlineExceeded, "timed out")}
	adapter := newTestAdapter(t, client)

	_, err := adapter.Generate(context.Background(), "hi", nil)
	if !IsRetryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}

	client.generateErr = errors.New("boom")
	_, err = adapter.Generate(context.Background(), "hi", nil)
	var internalErr *InternalError
	if !errors.As(err, &internalErr) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestModelInfoClassified(t *testing.T) {
	client := &fakeClient{infoErr: status.Error(codes.NotFound, "no such model")}
	adapter := newTestAdapter(t, client)

	_, err := adapter.ModelInfo(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Code != codes.NotFound {
		t.Fatalf("expected not-found transport error, got %v", err)
	}
}

func TestStreamDropsEmptyChunks(t *testing.T) {
	client := &fakeClient{streamEntries: []map[string]any{
		{"text": ""},
		{"text": "ab"},
		{"text": ""},
		{"text": "cd", "finish_reason": "stop"},
	}}
	adapter := newTestAdapter(t, client)

	stream, err := adapter.GenerateStream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	total := NewGeneration("", nil)
	var count int
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		count++
		total.Merge(chunk)
	}
	if count != 2 {
		t.Fatalf("expected 2 non-empty chunks, got %d", count)
	}
	if total.PlainText() != "abcd" {
		t.Fatalf("unexpected accumulated text: %q", total.PlainText())
	}
	if total.Meta["finish_reason"] != "stop" {
		t.Fatalf("unexpected meta: %v", total.Meta)
	}
}

func TestStreamStaysDoneAfterEOF(t *testing.T) {
	adapter := newTestAdapter(t, &fakeClient{})

	stream, err := adapter.GenerateStream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
			t.Fatalf("recv %d: expected EOF, got %v", i, err)
		}
	}
}

func TestStreamClassifiesMidStreamErrors(t *testing.T) {
	client := &fakeClient{
		streamEntries: []map[string]any{{"text": "partial"}},
		streamRecvErr: status.Error(codes.Unavailable, "backend gone"),
	}
	adapter := newTestAdapter(t, client)

	stream, err := adapter.GenerateStream(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	_, err = stream.Recv()
	if !IsRetryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("stream must be done after a failure, got %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t, &fakeClient{tokenizeResults: []TokenizeResult{{TokenCount: 1}}})
	state := adapter.State()
	if state.ModelID != "test-model" || state.Parameters.MaxNewTokens != 64 {
		t.Fatalf("unexpected state: %+v", state)
	}

	restored, err := Restore(context.Background(), state, func(context.Context) (Client, error) {
		return &fakeClient{tokenizeResults: []TokenizeResult{{TokenCount: 1}}}, nil
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := restored.Tokenize(context.Background(), "hi"); err != nil {
		t.Fatalf("restored adapter must hold a live client: %v", err)
	}
}

func TestRestoreRequiresProvider(t *testing.T) {
	state := State{ModelID: "m"}
	if _, err := Restore(context.Background(), state, nil); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	_, err := Restore(context.Background(), state, func(context.Context) (Client, error) { return nil, nil })
	if err == nil {
		t.Fatalf("expected error for nil client from provider")
	}
}
