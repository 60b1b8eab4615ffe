// Package delegate owns the lifecycle of external delegate invocations:
// argv construction, subprocess timeout enforcement, secret masking, and
// parsing raw output into the standard result envelope.
package delegate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/exec"
	"github.com/alderai/triad/pkg/models"
)

// Options are the per-invocation knobs a caller may set. Zero values fall
// back to the delegate's configured defaults.
type Options struct {
	// Timeout is the requested invocation timeout. Clamped to the
	// invoker's configured maximum regardless of the requested value.
	Timeout time.Duration
	// Model overrides the delegate's configured model identifier.
	Model string
	// ReasoningEffort overrides the configured reasoning effort.
	ReasoningEffort string
	// Sandbox overrides the configured sandbox/write-permission mode.
	Sandbox string
}

// Backend produces an envelope for a prompt. Implemented by the CLI Invoker
// and the Anthropic API runner; the router treats both uniformly.
type Backend interface {
	// Name returns the delegate ID this backend answers for.
	Name() string
	// Invoke runs the delegate. It always returns an envelope; errors are
	// normalized into envelope fields and never propagate past this
	// boundary.
	Invoke(ctx context.Context, prompt string, opts Options) *models.Envelope
}

// Rough chars-per-token estimate used when the backend reports no usage.
const estCharsPerToken = 4

// Flat cost estimate per 1K tokens, used for budget accounting when the
// CLI reports no pricing. Deliberately pessimistic.
const estCostPer1KTokens = 0.015

// Invoker runs one external delegate CLI and normalizes its output.
type Invoker struct {
	name       string
	cfg        config.DelegateConfig
	limits     config.InvokerConfig
	runner     exec.CommandRunner
	parser     *DecisionParser
	scorer     ConfidenceScorer
	transcript *Transcript
}

// NewInvoker creates an invoker for the named delegate.
func NewInvoker(name string, cfg config.DelegateConfig, limits config.InvokerConfig, runner exec.CommandRunner) (*Invoker, error) {
	if limits.MaxPromptBytes <= 0 {
		limits.MaxPromptBytes = 262144
	}
	if limits.MaxTimeout <= 0 {
		limits.MaxTimeout = 10 * time.Minute
	}

	transcript, err := NewTranscript(limits.TranscriptDir)
	if err != nil {
		return nil, err
	}

	parser, err := NewDecisionParserFromFile(patternLibraryPath(limits.TranscriptDir))
	if err != nil {
		return nil, err
	}

	return &Invoker{
		name:       name,
		cfg:        cfg,
		limits:     limits,
		runner:     runner,
		parser:     parser,
		scorer:     KeywordScorer{},
		transcript: transcript,
	}, nil
}

// patternLibraryPath locates the optional decision pattern library next to
// the transcripts.
func patternLibraryPath(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "patterns.yaml")
}

// SetScorer replaces the confidence scoring policy.
func (iv *Invoker) SetScorer(s ConfidenceScorer) {
	if s != nil {
		iv.scorer = s
	}
}

// Name returns the delegate ID.
func (iv *Invoker) Name() string {
	return iv.name
}

// Invoke runs the delegate CLI for the given prompt. The returned envelope
// is always non-nil; every failure mode maps to a status and an Abstain
// decision rather than an error.
func (iv *Invoker) Invoke(ctx context.Context, prompt string, opts Options) *models.Envelope {
	traceID := uuid.New().String()
	start := time.Now()

	env := &models.Envelope{
		Delegate:   iv.name,
		Decision:   models.DecisionAbstain,
		Confidence: 0,
		TraceID:    traceID,
	}

	if len(prompt) > iv.limits.MaxPromptBytes {
		env.Status = models.StatusError
		env.Reasoning = fmt.Sprintf("prompt size %d exceeds limit %d", len(prompt), iv.limits.MaxPromptBytes)
		env.Duration = time.Since(start)
		return env
	}

	if !iv.runner.LookPath(iv.cfg.Command) {
		env.Status = models.StatusNotFound
		env.Reasoning = fmt.Sprintf("delegate executable %q not found in PATH", iv.cfg.Command)
		env.Duration = time.Since(start)
		return env
	}

	timeout := iv.effectiveTimeout(opts.Timeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := iv.buildArgs(prompt, opts)
	res, err := iv.runner.Capture(callCtx, "", iv.cfg.Command, args...)
	env.Duration = time.Since(start)

	if err != nil {
		// Spawn failure after the LookPath check (permissions, ENOEXEC).
		env.Status = models.StatusError
		env.Reasoning = fmt.Sprintf("spawn failed: %v", err)
		iv.record(prompt, env, "")
		return env
	}

	output := strings.TrimSpace(string(res.Stdout))
	errOut := strings.TrimSpace(string(res.Stderr))
	combined := output
	if combined == "" {
		combined = errOut
	}

	env.Tokens = int64((len(prompt) + len(combined)) / estCharsPerToken)
	env.Cost = float64(env.Tokens) / 1000 * estCostPer1KTokens

	switch {
	case res.TimedOut:
		env.Status = models.StatusTimeout
		env.Reasoning = fmt.Sprintf("killed after %s", timeout)
	case res.ExitCode != 0:
		env.Status = classifyFailure(combined)
		env.Reasoning = truncate(MaskSecrets(combined), 500)
	default:
		env.Status = models.StatusSuccess
		env.Decision = iv.parser.Parse(output)
		env.Confidence = iv.scorer.Score(output)
		env.Reasoning = truncate(MaskSecrets(output), 500)
	}

	iv.record(prompt, env, combined)
	return env
}

// effectiveTimeout resolves the requested timeout against the delegate
// default and the hard cap.
func (iv *Invoker) effectiveTimeout(requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = iv.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if timeout > iv.limits.MaxTimeout {
		timeout = iv.limits.MaxTimeout
	}
	return timeout
}

// buildArgs constructs the CLI argv for the delegate family. The shapes
// match the claude / gemini / codex CLIs; unknown commands get the prompt
// as their only argument.
func (iv *Invoker) buildArgs(prompt string, opts Options) []string {
	model := opts.Model
	if model == "" {
		model = iv.cfg.Model
	}
	effort := opts.ReasoningEffort
	if effort == "" {
		effort = iv.cfg.ReasoningEffort
	}
	sandbox := opts.Sandbox
	if sandbox == "" {
		sandbox = iv.cfg.Sandbox
	}

	switch filepath.Base(iv.cfg.Command) {
	case "claude":
		args := []string{"-p", prompt}
		if model != "" {
			args = append([]string{"--model", model}, args...)
		}
		return args
	case "gemini":
		args := []string{}
		if model != "" {
			args = append(args, "-m", model)
		}
		args = append(args, "--approval-mode", "yolo", prompt)
		return args
	case "codex":
		args := []string{"exec"}
		if model != "" {
			args = append(args, "-m", model)
		}
		if effort != "" {
			args = append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", effort))
		}
		if sandbox != "" {
			args = append(args, "-s", sandbox)
		}
		return append(args, prompt)
	default:
		return []string{prompt}
	}
}

// record appends the invocation to the transcript. Transcript failures are
// swallowed; losing a transcript line must not fail the invocation.
func (iv *Invoker) record(prompt string, env *models.Envelope, rawOutput string) {
	_ = iv.transcript.Append(iv.name, env.TraceID, prompt, rawOutput)
}

// RequestDigest returns the stable digest of a prompt, used to key
// invocation records.
func RequestDigest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

// classifyFailure maps failure output to a distinct status so transient,
// configuration, and resource errors retry or reroute differently.
func classifyFailure(output string) models.InvokeStatus {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "429"):
		return models.StatusRateLimited
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "401"):
		return models.StatusAuthError
	default:
		return models.StatusError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Verify Invoker implements Backend at compile time.
var _ Backend = (*Invoker)(nil)
