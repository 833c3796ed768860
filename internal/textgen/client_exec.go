package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecClient shells out to a local command speaking JSON over
// stdin/stdout, for development and air-gapped testing. One call is in
// flight at a time.
type ExecClient struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Op      string      `json:"op"`
	ModelID string      `json:"model_id"`
	Inputs  []string    `json:"inputs,omitempty"`
	Params  *Parameters `json:"params,omitempty"`
	Options *Options    `json:"options,omitempty"`
}

type execReply struct {
	ModelID           string           `json:"model_id,omitempty"`
	MaxSequenceLength int              `json:"max_sequence_length,omitempty"`
	MaxNewTokens      int              `json:"max_new_tokens,omitempty"`
	Responses         []map[string]any `json:"responses,omitempty"`
	Tokenized         []struct {
		Tokens     []string `json:"tokens"`
		TokenCount int      `json:"token_count"`
	} `json:"tokenized,omitempty"`
}

// NewExecClient parses the command line and builds an exec-backed
// client.
func NewExecClient(command string) (*ExecClient, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse backend command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("backend command empty")
	}
	return &ExecClient{cmd: args}, nil
}

func (c *ExecClient) run(ctx context.Context, req execRequest) (*execReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	base := c.cmd[0]
	args := append([]string{}, c.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("backend command failed: %w", err)
	}
	var reply execReply
	if err := json.Unmarshal(output, &reply); err != nil {
		return nil, fmt.Errorf("decode backend command output: %w", err)
	}
	return &reply, nil
}

func (c *ExecClient) ModelInfo(ctx context.Context, modelID string) (*ModelInfo, error) {
	reply, err := c.run(ctx, execRequest{Op: "model_info", ModelID: modelID})
	if err != nil {
		return nil, err
	}
	info := &ModelInfo{
		ModelID:           reply.ModelID,
		MaxSequenceLength: reply.MaxSequenceLength,
		MaxNewTokens:      reply.MaxNewTokens,
	}
	if info.ModelID == "" {
		info.ModelID = modelID
	}
	return info, nil
}

func (c *ExecClient) Tokenize(ctx context.Context, modelID string, inputs []string) ([]TokenizeResult, error) {
	reply, err := c.run(ctx, execRequest{Op: "tokenize", ModelID: modelID, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	results := make([]TokenizeResult, 0, len(reply.Tokenized))
	for _, entry := range reply.Tokenized {
		results = append(results, TokenizeResult{Tokens: entry.Tokens, TokenCount: entry.TokenCount})
	}
	return results, nil
}

func (c *ExecClient) Generate(ctx context.Context, modelID string, inputs []string, params Parameters, opts Options) ([]map[string]any, error) {
	reply, err := c.run(ctx, execRequest{Op: "generate", ModelID: modelID, Inputs: inputs, Params: &params, Options: &opts})
	if err != nil {
		return nil, err
	}
	return reply.Responses, nil
}

// GenerateStream runs a unary generate and replays its entries as a
// stream; exec backends have no real streaming surface.
func (c *ExecClient) GenerateStream(ctx context.Context, modelID string, input string, params Parameters, opts Options) (ChunkStream, error) {
	entries, err := c.Generate(ctx, modelID, []string{input}, params, opts)
	if err != nil {
		return nil, err
	}
	return &sliceChunkStream{entries: entries}, nil
}

type sliceChunkStream struct {
	entries []map[string]any
	next    int
}

func (s *sliceChunkStream) Recv() (map[string]any, error) {
	if s.next >= len(s.entries) {
		return nil, io.EOF
	}
	entry := s.entries[s.next]
	s.next++
	return entry, nil
}

func (s *sliceChunkStream) Close() error {
	s.next = len(s.entries)
	return nil
}
