// Package gateway provides a role-addressed interface to text-generation
// backends. Pipeline stages ask for a logical role (planner, query-writer,
// healer, synthesizer); the gateway maps the role to a configured model and
// backend, so stages never know which model serves them.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Role identifies the logical capability a pipeline stage is asking for.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleQueryWriter Role = "query-writer"
	RoleHealer      Role = "healer"
	RoleSynthesizer Role = "synthesizer"
)

// Backend is a concrete text-generation service (Anthropic, Ollama).
type Backend interface {
	// Complete sends a system and user prompt to the given model and
	// returns the response text.
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Config holds the configuration for a Gateway.
type Config struct {
	Logger  *slog.Logger
	Backend Backend
	// Models maps each role to the model identifier the backend should use.
	Models map[Role]string
	// Timeout bounds a single Generate call, retries included.
	Timeout time.Duration
	// MaxAttempts bounds transient-failure retries per call (default 3).
	MaxAttempts uint
}

// Gateway routes role-addressed generation requests to a backend.
type Gateway struct {
	log         *slog.Logger
	backend     Backend
	models      map[Role]string
	timeout     time.Duration
	maxAttempts uint
}

// New creates a Gateway. Every role in use must have a model configured.
func New(cfg Config) (*Gateway, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one role model mapping is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		log:         cfg.Logger,
		backend:     cfg.Backend,
		models:      cfg.Models,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Generate sends a prompt on behalf of the given role and returns the
// response text. Transient backend failures are retried with exponential
// backoff inside the gateway; callers see only the final error.
func (g *Gateway) Generate(ctx context.Context, role Role, systemPrompt, userPrompt string) (string, error) {
	model, ok := g.models[role]
	if !ok || model == "" {
		return "", fmt.Errorf("no model configured for role %q", role)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		if attempt > 0 {
			g.log.Warn("gateway: retrying generation", "role", role, "model", model, "attempt", attempt)
		}
		attempt++
		return g.backend.Complete(ctx, model, systemPrompt, userPrompt)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(g.maxAttempts))
	if err != nil {
		g.log.Error("gateway: generation failed", "role", role, "model", model, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("generate for role %q: %w", role, err)
	}

	g.log.Debug("gateway: generation completed", "role", role, "model", model, "duration", time.Since(start), "responseLen", len(text))
	return text, nil
}

// GenerateStructured sends a prompt on behalf of the given role and decodes
// the JSON object in the response into out. Markdown code fences and any
// prose around the JSON are tolerated.
func (g *Gateway) GenerateStructured(ctx context.Context, role Role, systemPrompt, userPrompt string, out any) error {
	text, err := g.Generate(ctx, role, systemPrompt, userPrompt)
	if err != nil {
		return err
	}

	jsonStr := ExtractJSON(text)
	if jsonStr == "" {
		return fmt.Errorf("no JSON found in %q response", role)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("parse %q response: %w", role, err)
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object in text, stripping
// markdown code fences if present. Returns "" when no object is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip a leading code fence (```json ... ``` or ``` ... ```).
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx != -1 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
