package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/luminal-ai/genbridge/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'generate', 'tokenize' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "generate":
		if err := runGenerate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "tokenize":
		if err := runTokenize(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runGenerate(args []string) error {
	var (
		servers string
		input   string
		timeout time.Duration
		choice  string
		grammar string
		schema  string
		regex   string
	)
	cmd := flag.NewFlagSet("generate", flag.ExitOnError)
	cmd.StringVar(&servers, "servers", "nats://localhost:4222", "Comma-separated NATS servers")
	cmd.StringVar(&input, "input", "", "Prompt text")
	cmd.DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for the final chunk")
	cmd.StringVar(&choice, "choice", "", "Constrain output to one of these comma-separated values")
	cmd.StringVar(&grammar, "grammar", "", "Constrain output with a grammar")
	cmd.StringVar(&schema, "json", "", "Constrain output with a JSON schema")
	cmd.StringVar(&regex, "regex", "", "Constrain output with a regular expression")
	cmd.Parse(args)

	if input == "" {
		return fmt.Errorf("generate: -input is required")
	}

	conn, err := nats.Connect(servers, nats.Name("genbridgectl"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	requestID := fmt.Sprintf("ctl-%d", time.Now().UnixNano())
	req := protocol.GenerateRequest{
		RequestID: requestID,
		Input:     input,
		Guided:    buildGuided(choice, grammar, schema, regex),
	}

	chunks := make(chan *nats.Msg, 64)
	for _, subject := range []string{
		protocol.SubjectGenerateResponsePartial,
		protocol.SubjectGenerateResponseFinal,
		protocol.SubjectGenerateResponseError,
	} {
		sub, err := conn.ChanSubscribe(subject, chunks)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		defer sub.Unsubscribe()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectGenerateRequest, data); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timed out waiting for response")
		case msg := <-chunks:
			done, err := handleChunk(msg, requestID)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func handleChunk(msg *nats.Msg, requestID string) (bool, error) {
	if msg.Subject == protocol.SubjectGenerateResponseError {
		var failure protocol.GenerateError
		if err := json.Unmarshal(msg.Data, &failure); err != nil || failure.RequestID != requestID {
			return false, nil
		}
		return false, fmt.Errorf("generation failed (%s, retryable=%t): %s", failure.Kind, failure.Retryable, failure.Message)
	}

	var chunk protocol.GenerateChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil || chunk.RequestID != requestID {
		return false, nil
	}
	if chunk.Partial {
		fmt.Print(chunk.Text)
		return false, nil
	}
	// The final chunk repeats the accumulated text; partials already
	// printed it, so only the trailing metadata is of interest here.
	fmt.Println()
	if reason, ok := chunk.Meta["finish_reason"]; ok {
		fmt.Printf("finish_reason: %v\n", reason)
	}
	return true, nil
}

func runTokenize(args []string) error {
	var (
		servers string
		input   string
		timeout time.Duration
	)
	cmd := flag.NewFlagSet("tokenize", flag.ExitOnError)
	cmd.StringVar(&servers, "servers", "nats://localhost:4222", "Comma-separated NATS servers")
	cmd.StringVar(&input, "input", "", "Text to tokenize")
	cmd.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	cmd.Parse(args)

	if input == "" {
		return fmt.Errorf("tokenize: -input is required")
	}

	conn, err := nats.Connect(servers, nats.Name("genbridgectl"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	req := protocol.TokenizeRequest{
		RequestID: fmt.Sprintf("ctl-%d", time.Now().UnixNano()),
		Input:     input,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := conn.Request(protocol.SubjectTokenizeRequest, data, timeout)
	if err != nil {
		return fmt.Errorf("tokenize request: %w", err)
	}

	var reply protocol.TokenizeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("tokenize failed: %s", reply.Error)
	}
	fmt.Printf("tokens: %s\n", strings.Join(reply.Tokens, " "))
	fmt.Printf("count: %d\n", reply.TokenCount)
	return nil
}

func buildGuided(choice, grammar, schema, regex string) map[string]any {
	guided := make(map[string]any)
	if choice != "" {
		var choices []string
		for _, c := range strings.Split(choice, ",") {
			if trimmed := strings.TrimSpace(c); trimmed != "" {
				choices = append(choices, trimmed)
			}
		}
		guided["choice"] = choices
	}
	if grammar != "" {
		guided["grammar"] = grammar
	}
	if schema != "" {
		guided["json"] = schema
	}
	if regex != "" {
		guided["regex"] = regex
	}
	if len(guided) == 0 {
		return nil
	}
	return guided
}
