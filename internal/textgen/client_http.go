package textgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HTTPClient talks to a TGIS-style REST gateway in front of the
// generation service. Streaming responses arrive as newline-delimited
// JSON. Failures are reported as gRPC-status errors so the adapter's
// classifier sees the backend's own status numbering.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient builds a client for the given base endpoint, e.g.
// "http://localhost:8033".
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type tokenizeRequest struct {
	ModelID      string   `json:"model_id"`
	Inputs       []string `json:"inputs"`
	ReturnTokens bool     `json:"return_tokens"`
}

type tokenizeResponse struct {
	Responses []struct {
		Tokens     []string `json:"tokens"`
		TokenCount int      `json:"token_count"`
	} `json:"responses"`
}

type generateRequest struct {
	ModelID string     `json:"model_id"`
	Inputs  []string   `json:"inputs,omitempty"`
	Input   string     `json:"input,omitempty"`
	Params  Parameters `json:"params"`
	Options Options    `json:"options"`
}

type generateResponse struct {
	Responses []map[string]any `json:"responses"`
}

type modelInfoResponse struct {
	ModelID           string `json:"model_id"`
	MaxSequenceLength int    `json:"max_sequence_length"`
	MaxNewTokens      int    `json:"max_new_tokens"`
}

func (c *HTTPClient) ModelInfo(ctx context.Context, modelID string) (*ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/v1/models/"+url.PathEscape(modelID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}
	var info modelInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	if info.ModelID == "" {
		info.ModelID = modelID
	}
	return &ModelInfo{
		ModelID:           info.ModelID,
		MaxSequenceLength: info.MaxSequenceLength,
		MaxNewTokens:      info.MaxNewTokens,
	}, nil
}

func (c *HTTPClient) Tokenize(ctx context.Context, modelID string, inputs []string) ([]TokenizeResult, error) {
	var decoded tokenizeResponse
	payload := tokenizeRequest{ModelID: modelID, Inputs: inputs, ReturnTokens: true}
	if err := c.postJSON(ctx, "/v1/tokenize", payload, &decoded); err != nil {
		return nil, err
	}
	results := make([]TokenizeResult, 0, len(decoded.Responses))
	for _, entry := range decoded.Responses {
		results = append(results, TokenizeResult{Tokens: entry.Tokens, TokenCount: entry.TokenCount})
	}
	return results, nil
}

func (c *HTTPClient) Generate(ctx context.Context, modelID string, inputs []string, params Parameters, opts Options) ([]map[string]any, error) {
	var decoded generateResponse
	payload := generateRequest{ModelID: modelID, Inputs: inputs, Params: params, Options: opts}
	if err := c.postJSON(ctx, "/v1/generate", payload, &decoded); err != nil {
		return nil, err
	}
	return decoded.Responses, nil
}

func (c *HTTPClient) GenerateStream(ctx context.Context, modelID string, input string, params Parameters, opts Options) (ChunkStream, error) {
	payload := generateRequest{ModelID: modelID, Input: input, Params: params, Options: opts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v1/generate_stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return &httpChunkStream{ctx: ctx, body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type httpChunkStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpChunkStream) Recv() (map[string]any, error) {
	for s.scanner.Scan() {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		return entry, nil
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *httpChunkStream) Close() error {
	return s.body.Close()
}

// responseError translates a gateway HTTP status into the service's
// gRPC status numbering, following the grpc-gateway mapping.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return status.Error(codeFromHTTP(resp.StatusCode), msg)
}

func codeFromHTTP(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.Aborted
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return codes.DeadlineExceeded
	default:
		if httpStatus >= 500 {
			return codes.Internal
		}
		return codes.Unknown
	}
}
