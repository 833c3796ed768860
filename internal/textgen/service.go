package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/luminal-ai/genbridge/internal/bus"
	"github.com/luminal-ai/genbridge/internal/config"
	"github.com/luminal-ai/genbridge/internal/protocol"
)

// GenerationRecord is the audit entry persisted per completed call.
type GenerationRecord struct {
	ModelID      string
	Input        string
	Output       string
	FinishReason string
	Tokens       int
	CreatedAt    time.Time
}

// Recorder persists completed generations. Implemented by the state
// store; a nil recorder disables auditing.
type Recorder interface {
	RecordGeneration(ctx context.Context, rec GenerationRecord) error
}

// Service exposes the adapter on the bus: streamed generation on
// publish/subscribe subjects, tokenization via request/reply.
type Service struct {
	cfg      config.ServiceConfig
	bus      *bus.Client
	adapter  *Adapter
	recorder Recorder
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ready    bool
	logger   *slog.Logger

	requests metric.Int64Counter
	failures metric.Int64Counter
	chunks   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.ServiceConfig, busClient *bus.Client, adapter *Adapter, recorder Recorder, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		adapter:  adapter,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "textgen-service")),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/luminal-ai/genbridge/textgen")
	var err error
	if s.requests, err = meter.Int64Counter("textgen.requests",
		metric.WithDescription("Generation requests handled")); err != nil {
		s.logger.Warn("failed to create request counter", slogError(err))
	}
	if s.failures, err = meter.Int64Counter("textgen.failures",
		metric.WithDescription("Generation requests that failed")); err != nil {
		s.logger.Warn("failed to create failure counter", slogError(err))
	}
	if s.chunks, err = meter.Int64Counter("textgen.stream_chunks",
		metric.WithDescription("Streamed chunks published")); err != nil {
		s.logger.Warn("failed to create chunk counter", slogError(err))
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	genSub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerateRequest, s.handleGenerate)
	if err != nil {
		return fmt.Errorf("subscribe generate requests: %w", err)
	}
	s.subs = append(s.subs, genSub)

	tokSub, err := s.bus.Conn().Subscribe(protocol.SubjectTokenizeRequest, s.handleTokenize)
	if err != nil {
		return fmt.Errorf("subscribe tokenize requests: %w", err)
	}
	s.subs = append(s.subs, tokSub)

	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleGenerate(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeout)*time.Millisecond)
		defer cancel()
		s.runGenerate(ctx, req)
	}()
}

func (s *Service) runGenerate(ctx context.Context, req protocol.GenerateRequest) {
	if s.requests != nil {
		s.requests.Add(ctx, 1)
	}
	start := time.Now()

	stream, err := s.adapter.GenerateStream(ctx, req.Input, GuidedOverride(req.Guided))
	if err != nil {
		s.publishError(ctx, req, err)
		return
	}
	defer stream.Close()

	total := &Generation{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.publishError(ctx, req, err)
			return
		}
		total.Merge(chunk)
		if err := s.publishChunk(req, chunk, true); err != nil {
			s.logger.Warn("failed to publish partial chunk", slogError(err))
			return
		}
		if s.chunks != nil {
			s.chunks.Add(ctx, 1)
		}
	}

	if err := s.publishChunk(req, total, false); err != nil {
		s.logger.Warn("failed to publish final result", slogError(err))
		return
	}
	s.record(ctx, req, total)
	s.logger.Info("generation complete",
		slog.String("request_id", req.RequestID),
		slog.Duration("latency", time.Since(start)))
}

func (s *Service) publishChunk(req protocol.GenerateRequest, g *Generation, partial bool) error {
	out := protocol.GenerateChunk{
		RequestID: req.RequestID,
		ModelID:   s.adapter.ModelID(),
		Text:      g.PlainText(),
		Partial:   partial,
		Meta:      g.Meta,
		TraceID:   req.TraceID,
		Timestamp: time.Now().UTC(),
	}
	subject := protocol.SubjectGenerateResponsePartial
	if !partial {
		subject = protocol.SubjectGenerateResponseFinal
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(subject, data)
}

func (s *Service) publishError(ctx context.Context, req protocol.GenerateRequest, err error) {
	kind, code, retryable := describe(err)
	if s.failures != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("retryable", retryable)))
	}
	s.logger.Warn("generation failed",
		slog.String("request_id", req.RequestID),
		slog.String("kind", kind),
		slog.Bool("retryable", retryable),
		slogError(err))

	out := protocol.GenerateError{
		RequestID: req.RequestID,
		Kind:      kind,
		Code:      code,
		Retryable: retryable,
		Message:   err.Error(),
		TraceID:   req.TraceID,
	}
	data, marshalErr := json.Marshal(out)
	if marshalErr != nil {
		return
	}
	if pubErr := s.bus.Conn().Publish(protocol.SubjectGenerateResponseError, data); pubErr != nil {
		s.logger.Warn("failed to publish error", slogError(pubErr))
	}
}

func (s *Service) record(ctx context.Context, req protocol.GenerateRequest, total *Generation) {
	if s.recorder == nil {
		return
	}
	rec := GenerationRecord{
		ModelID:   s.adapter.ModelID(),
		Input:     req.Input,
		Output:    total.PlainText(),
		CreatedAt: time.Now().UTC(),
	}
	if reason, ok := total.Meta["finish_reason"].(string); ok {
		rec.FinishReason = reason
	}
	switch tokens := total.Meta["generated_tokens"].(type) {
	case float64:
		rec.Tokens = int(tokens)
	case int:
		rec.Tokens = tokens
	}
	if err := s.recorder.RecordGeneration(ctx, rec); err != nil {
		s.logger.Warn("failed to record generation", slogError(err))
	}
}

func (s *Service) handleTokenize(msg *nats.Msg) {
	var req protocol.TokenizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tokenize request", slogError(err))
		return
	}
	if msg.Reply == "" {
		s.logger.Warn("tokenize request without reply subject", slog.String("request_id", req.RequestID))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeout)*time.Millisecond)
	defer cancel()

	reply := protocol.TokenizeReply{RequestID: req.RequestID}
	result, err := s.adapter.Tokenize(ctx, req.Input)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Tokens = result.Tokens
		reply.TokenCount = result.TokenCount
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to tokenize request", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
