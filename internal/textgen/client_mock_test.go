package textgen

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestMockStreamMatchesUnary(t *testing.T) {
	adapter := newTestAdapter(t, NewMockClient())

	unary, err := adapter.Generate(context.Background(), "tell me a story", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	stream, err := adapter.GenerateStream(context.Background(), "tell me a story", nil)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	total := NewGeneration("", nil)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		total.Merge(chunk)
	}

	if total.PlainText() != unary.PlainText() {
		t.Fatalf("streamed text %q differs from unary %q", total.PlainText(), unary.PlainText())
	}
	if total.Meta["finish_reason"] != "stop" {
		t.Fatalf("unexpected meta: %v", total.Meta)
	}
}

func TestMockTokenize(t *testing.T) {
	adapter := newTestAdapter(t, NewMockClient())

	result, err := adapter.Tokenize(context.Background(), "one two three")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if result.TokenCount != 3 {
		t.Fatalf("expected 3 tokens, got %d", result.TokenCount)
	}
}
