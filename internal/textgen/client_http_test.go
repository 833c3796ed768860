package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPModelInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/granite-3b" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model_id":            "granite-3b",
			"max_sequence_length": 4096,
			"max_new_tokens":      1024,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0)
	info, err := client.ModelInfo(context.Background(), "granite-3b")
	if err != nil {
		t.Fatalf("model info: %v", err)
	}
	if info.MaxSequenceLength != 4096 || info.MaxNewTokens != 1024 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestHTTPGenerate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"responses": []map[string]any{{"text": "out", "finish_reason": "stop"}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0)
	params := Parameters{MaxNewTokens: 32, Decoding: &GuidedSpec{Regex: "[a-z]+"}}
	entries, err := client.Generate(context.Background(), "m", []string{"hi"}, params, Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(entries) != 1 || entries[0]["text"] != "out" {
		t.Fatalf("unexpected entries: %v", entries)
	}
	if got.ModelID != "m" || len(got.Inputs) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Params.Decoding == nil || got.Params.Decoding.Regex != "[a-z]+" {
		t.Fatalf("decoding spec not forwarded: %+v", got.Params)
	}
}

func TestHTTPGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate_stream" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"text":"a"}`+"\n")
		io.WriteString(w, "\n")
		io.WriteString(w, `{"text":"b","finish_reason":"eos"}`+"\n")
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0)
	stream, err := client.GenerateStream(context.Background(), "m", "hi", Parameters{}, Options{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	var texts []string
	for {
		entry, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		texts = append(texts, entry["text"].(string))
	}
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Fatalf("unexpected chunks: %v", texts)
	}
}

func TestHTTPStreamHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"a"}`+"\n")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewHTTPClient(server.URL, 0)
	stream, err := client.GenerateStream(ctx, "m", "hi", Parameters{}, Options{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	cancel()
	if _, err := stream.Recv(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		httpStatus int
		code       codes.Code
		retryable  bool
	}{
		{http.StatusTooManyRequests, codes.ResourceExhausted, true},
		{http.StatusServiceUnavailable, codes.Unavailable, true},
		{http.StatusBadGateway, codes.Unavailable, true},
		{http.StatusGatewayTimeout, codes.DeadlineExceeded, true},
		{http.StatusNotFound, codes.NotFound, false},
		{http.StatusBadRequest, codes.InvalidArgument, false},
		{http.StatusInternalServerError, codes.Internal, false},
	}

	for _, tc := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend says no", tc.httpStatus)
		}))
		client := NewHTTPClient(server.URL, 0)

		_, err := client.Generate(context.Background(), "m", []string{"hi"}, Parameters{}, Options{})
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.httpStatus)
		}
		st, ok := status.FromError(err)
		if !ok || st.Code() != tc.code {
			t.Fatalf("status %d: expected code %s, got %v", tc.httpStatus, tc.code, err)
		}
		if IsRetryable(Classify(err)) != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v", tc.httpStatus, tc.retryable)
		}
	}
}
