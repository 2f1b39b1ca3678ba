// Package agents implements the reasoning port with a language model: role
// prompts, outcome document parsing and the model providers.
package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
)

// LLMProvider generates a completion for a system prompt and a user prompt.
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// modelNamer is implemented by providers that know their model.
type modelNamer interface {
	Model() string
}

var tracer = otel.Tracer("ai-firm/agents")

// =============================================================================
// ARTIFACT BOOK
// =============================================================================

// artifactBook remembers the artifacts each role has produced so a repeated
// name becomes a new version instead of a new artifact.
type artifactBook struct {
	mu    sync.Mutex
	known map[string]kernel.Artifact
}

func newArtifactBook() *artifactBook {
	return &artifactBook{known: make(map[string]kernel.Artifact)}
}

// record returns the artifact to store and whether it is new.
func (b *artifactBook) record(role envelope.Role, kind kernel.ArtifactKind, name, content string) (kernel.Artifact, bool) {
	key := string(role) + "/" + name
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.known[key]; ok {
		next := prev.Revise(content)
		next.Kind = kind
		b.known[key] = next
		return next, false
	}
	a := kernel.NewArtifact(kind, name, content, role)
	b.known[key] = a
	return a, true
}

// =============================================================================
// LLM REASONER
// =============================================================================

// LLMReasoner is a kernel.Reasoner backed by a language model. One instance
// can serve every role; the role is taken from the RoleContext.
type LLMReasoner struct {
	provider  LLMProvider
	logger    kernel.Logger
	prompts   map[envelope.Role]string
	artifacts *artifactBook
}

// ReasonerOption configures an LLMReasoner.
type ReasonerOption func(*LLMReasoner)

// WithSystemPrompt replaces the system prompt of one role.
func WithSystemPrompt(role envelope.Role, prompt string) ReasonerOption {
	return func(r *LLMReasoner) { r.prompts[role] = prompt }
}

// WithLogger sets the logger.
func WithLogger(logger kernel.Logger) ReasonerOption {
	return func(r *LLMReasoner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewLLMReasoner creates a reasoner over provider.
func NewLLMReasoner(provider LLMProvider, opts ...ReasonerOption) (*LLMReasoner, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm reasoner requires a provider")
	}
	r := &LLMReasoner{
		provider:  provider,
		logger:    nopLogger{},
		prompts:   make(map[envelope.Role]string),
		artifacts: newArtifactBook(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SystemPrompt returns the prompt used for role.
func (r *LLMReasoner) SystemPrompt(role envelope.Role) string {
	if p, ok := r.prompts[role]; ok {
		return p
	}
	return SystemPrompt(role)
}

// Process implements kernel.Reasoner.
func (r *LLMReasoner) Process(ctx context.Context, env *envelope.Envelope, rc kernel.RoleContext) (out *kernel.Outcome, err error) {
	if env == nil {
		return nil, fmt.Errorf("llm reasoner: nil envelope")
	}
	provider := r.provider.Name()
	model := "default"
	if mn, ok := r.provider.(modelNamer); ok && mn.Model() != "" {
		model = mn.Model()
	}

	ctx, span := tracer.Start(ctx, "reasoner.process", trace.WithAttributes(
		attribute.String("firm.role", string(rc.Role)),
		attribute.String("firm.envelope.id", env.ID),
		attribute.String("firm.envelope.kind", string(env.Kind)),
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		durationMS := int(time.Since(start).Milliseconds())
		span.SetAttributes(attribute.Int("duration_ms", durationMS))
		if err != nil {
			observability.RecordLLMCall(provider, model, "error", durationMS)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Warn("reasoner_failed", "role", string(rc.Role), "envelope_id", env.ID,
				"error", err.Error(), "duration_ms", durationMS)
			return
		}
		observability.RecordLLMCall(provider, model, "success", durationMS)
		span.SetStatus(codes.Ok, "success")
	}()

	reply, err := r.provider.Generate(ctx, r.SystemPrompt(rc.Role), buildPrompt(env, rc))
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}
	r.logger.Debug("reasoner_reply", "role", string(rc.Role), "length", len(reply),
		"preview", truncate(strings.TrimSpace(reply), 200))

	doc, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("outcome parsing failed: %w", err)
	}

	p := &outcomeParser{role: rc.Role, env: env, artifacts: r.artifacts, logger: r.logger}
	out = p.parse(doc)
	r.logger.Debug("reasoner_outcome", "role", string(rc.Role), "envelope_id", env.ID, "outcome", describeOutcome(out))
	return out, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
