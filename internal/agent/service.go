package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashureev/mentor-labs/internal/domain"
	"github.com/ashureev/mentor-labs/internal/metrics"
)

const tracerName = "github.com/ashureev/mentor-labs/internal/agent"

// Service wraps a Generator with per-call timeouts, optional retries,
// tracing, metrics and transcript logging.
type Service struct {
	gen        Generator
	cfg        Config
	transcript ConversationLogger
	logger     *slog.Logger
}

// NewService creates a generation service around gen.
func NewService(gen Generator, cfg Config, transcript ConversationLogger, logger *slog.Logger) *Service {
	if transcript == nil {
		transcript = NopConversationLogger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = "custom"
	}
	return &Service{gen: gen, cfg: cfg, transcript: transcript, logger: logger}
}

// Generate sends prompt for the given session step and returns the raw text.
// Every failure is reported as a domain error of kind UpstreamFailure.
func (s *Service) Generate(ctx context.Context, sessionID string, step domain.Step, prompt string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("mentor.step", string(step)),
		attribute.String("mentor.provider", s.cfg.Provider),
		attribute.Int("mentor.prompt_length", len(prompt)),
	)

	s.transcript.Log(ConversationLogEvent{
		SessionID:  sessionID,
		Step:       string(step),
		Provider:   s.cfg.Provider,
		Direction:  "outbound",
		EventType:  EventPrompt,
		ContentRaw: prompt,
	})

	start := time.Now()
	text, attempts, err := s.generateWithRetry(ctx, prompt)
	elapsed := time.Since(start)
	metrics.GenerationDuration.WithLabelValues(s.cfg.Provider).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("mentor.attempts", attempts))

	if err != nil {
		metrics.GenerationCalls.WithLabelValues(s.cfg.Provider, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		s.logger.Error("generation failed",
			"session_id", sessionID,
			"step", step,
			"provider", s.cfg.Provider,
			"attempts", attempts,
			"error", err,
		)
		s.transcript.Log(ConversationLogEvent{
			SessionID:  sessionID,
			Step:       string(step),
			Provider:   s.cfg.Provider,
			Direction:  "inbound",
			EventType:  EventError,
			Attempt:    attempts,
			DurationMs: elapsed.Milliseconds(),
			Error:      err.Error(),
		})
		return "", domain.Upstream(fmt.Sprintf("AI API call failed: %v", err), err)
	}

	metrics.GenerationCalls.WithLabelValues(s.cfg.Provider, "ok").Inc()
	s.logger.Debug("generation succeeded",
		"session_id", sessionID,
		"step", step,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
	)
	s.transcript.Log(ConversationLogEvent{
		SessionID:  sessionID,
		Step:       string(step),
		Provider:   s.cfg.Provider,
		Direction:  "inbound",
		EventType:  EventResponse,
		Attempt:    attempts,
		DurationMs: elapsed.Milliseconds(),
		ContentRaw: text,
	})
	return text, nil
}

func (s *Service) generateWithRetry(ctx context.Context, prompt string) (string, int, error) {
	maxAttempts := s.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := s.generateOnce(ctx, prompt)
		if err == nil {
			return text, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == maxAttempts {
			return "", attempt, lastErr
		}

		delay := s.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
		s.logger.Warn("generation attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", attempt, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return "", maxAttempts, lastErr
}

func (s *Service) generateOnce(ctx context.Context, prompt string) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
