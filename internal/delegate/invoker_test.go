package delegate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/internal/exec"
	"github.com/alderai/triad/pkg/models"
)

// fakeRunner scripts command execution for tests.
type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	timedOut bool
	spawnErr error
	missing  bool

	gotName string
	gotArgs []string
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	res, err := f.Capture(ctx, workDir, name, args...)
	if err != nil {
		return nil, err
	}
	return append(res.Stdout, res.Stderr...), nil
}

func (f *fakeRunner) Capture(ctx context.Context, workDir, name string, args ...string) (*exec.Result, error) {
	f.calls++
	f.gotName = name
	f.gotArgs = args
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return &exec.Result{
		Stdout:   []byte(f.stdout),
		Stderr:   []byte(f.stderr),
		ExitCode: f.exitCode,
		TimedOut: f.timedOut,
	}, nil
}

func (f *fakeRunner) LookPath(name string) bool {
	return !f.missing
}

func newTestInvoker(t *testing.T, name string, cfg config.DelegateConfig, runner exec.CommandRunner) *Invoker {
	t.Helper()
	limits := config.InvokerConfig{
		MaxPromptBytes: 1024,
		MaxTimeout:     time.Minute,
		TranscriptDir:  t.TempDir(),
	}
	iv, err := NewInvoker(name, cfg, limits, runner)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	return iv
}

func TestInvokeSuccess(t *testing.T) {
	runner := &fakeRunner{stdout: "APPROVE - this is definitely correct\n"}
	iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

	env := iv.Invoke(context.Background(), "review this", Options{})

	if env.Status != models.StatusSuccess {
		t.Fatalf("status = %v, want success", env.Status)
	}
	if env.Decision != models.DecisionApprove {
		t.Errorf("decision = %v, want approve", env.Decision)
	}
	if env.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", env.Confidence)
	}
	if env.Delegate != "claude" {
		t.Errorf("delegate = %q, want claude", env.Delegate)
	}
	if env.TraceID == "" {
		t.Error("trace ID not set")
	}
	if env.Tokens <= 0 {
		t.Error("token estimate not set")
	}
}

func TestInvokeTimeout(t *testing.T) {
	runner := &fakeRunner{timedOut: true, exitCode: exec.TimeoutExitCode}
	iv := newTestInvoker(t, "gemini", config.DelegateConfig{Command: "gemini"}, runner)

	env := iv.Invoke(context.Background(), "review", Options{Timeout: time.Second})

	if env.Status != models.StatusTimeout {
		t.Fatalf("status = %v, want timeout", env.Status)
	}
	if env.Decision != models.DecisionAbstain {
		t.Errorf("decision = %v, want abstain on timeout", env.Decision)
	}
}

func TestInvokeMissingExecutable(t *testing.T) {
	runner := &fakeRunner{missing: true}
	iv := newTestInvoker(t, "codex", config.DelegateConfig{Command: "codex"}, runner)

	env := iv.Invoke(context.Background(), "review", Options{})

	if env.Status != models.StatusNotFound {
		t.Fatalf("status = %v, want not_found", env.Status)
	}
	if env.Decision != models.DecisionAbstain {
		t.Errorf("decision = %v, want abstain", env.Decision)
	}
	if runner.calls != 0 {
		t.Errorf("Capture called %d times for a missing executable, want 0", runner.calls)
	}
}

func TestInvokePromptTooLarge(t *testing.T) {
	runner := &fakeRunner{stdout: "APPROVE"}
	iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

	env := iv.Invoke(context.Background(), strings.Repeat("x", 2048), Options{})

	if env.Status != models.StatusError {
		t.Fatalf("status = %v, want error", env.Status)
	}
	if runner.calls != 0 {
		t.Errorf("oversize prompt spawned the delegate %d times, want 0", runner.calls)
	}
}

func TestInvokeFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   models.InvokeStatus
	}{
		{"rate limit phrase", "error: rate limit exceeded, retry later", models.StatusRateLimited},
		{"http 429", "upstream returned 429", models.StatusRateLimited},
		{"too many requests", "Too Many Requests", models.StatusRateLimited},
		{"unauthorized", "401 Unauthorized", models.StatusAuthError},
		{"bad key", "invalid api key provided", models.StatusAuthError},
		{"generic failure", "panic: something broke", models.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{stderr: tt.stderr, exitCode: 1}
			iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

			env := iv.Invoke(context.Background(), "review", Options{})
			if env.Status != tt.want {
				t.Errorf("status = %v, want %v", env.Status, tt.want)
			}
			if env.Decision != models.DecisionAbstain {
				t.Errorf("decision = %v, want abstain on failure", env.Decision)
			}
		})
	}
}

func TestInvokeSpawnError(t *testing.T) {
	runner := &fakeRunner{spawnErr: context.Canceled}
	iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

	env := iv.Invoke(context.Background(), "review", Options{})
	if env.Status != models.StatusError {
		t.Fatalf("status = %v, want error", env.Status)
	}
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DelegateConfig
		want []string
	}{
		{
			"claude prompt flag",
			config.DelegateConfig{Command: "claude"},
			[]string{"-p", "do the review"},
		},
		{
			"claude with model",
			config.DelegateConfig{Command: "claude", Model: "claude-sonnet-4-5"},
			[]string{"--model", "claude-sonnet-4-5", "-p", "do the review"},
		},
		{
			"gemini yolo mode",
			config.DelegateConfig{Command: "gemini", Model: "gemini-3-pro-preview"},
			[]string{"-m", "gemini-3-pro-preview", "--approval-mode", "yolo", "do the review"},
		},
		{
			"codex exec shape",
			config.DelegateConfig{Command: "codex", Model: "gpt-5.2-codex", ReasoningEffort: "xhigh", Sandbox: "workspace-write"},
			[]string{"exec", "-m", "gpt-5.2-codex", "-c", `model_reasoning_effort="xhigh"`, "-s", "workspace-write", "do the review"},
		},
		{
			"absolute command path",
			config.DelegateConfig{Command: "/usr/local/bin/claude"},
			[]string{"-p", "do the review"},
		},
		{
			"unknown command",
			config.DelegateConfig{Command: "mystery-cli"},
			[]string{"do the review"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{stdout: "APPROVE"}
			iv := newTestInvoker(t, "x", tt.cfg, runner)

			iv.Invoke(context.Background(), "do the review", Options{})

			if runner.gotName != tt.cfg.Command {
				t.Errorf("command = %q, want %q", runner.gotName, tt.cfg.Command)
			}
			if len(runner.gotArgs) != len(tt.want) {
				t.Fatalf("args = %q, want %q", runner.gotArgs, tt.want)
			}
			for i := range tt.want {
				if runner.gotArgs[i] != tt.want[i] {
					t.Errorf("args[%d] = %q, want %q", i, runner.gotArgs[i], tt.want[i])
				}
			}
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	iv := newTestInvoker(t, "claude",
		config.DelegateConfig{Command: "claude", Timeout: 30 * time.Second},
		&fakeRunner{stdout: "ok"})

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero uses delegate default", 0, 30 * time.Second},
		{"explicit request honored", 10 * time.Second, 10 * time.Second},
		{"clamped to maximum", time.Hour, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := iv.effectiveTimeout(tt.requested); got != tt.want {
				t.Errorf("effectiveTimeout(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestReasoningMasked(t *testing.T) {
	runner := &fakeRunner{stdout: "APPROVE, verified with api_key=abc123secret"}
	iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

	env := iv.Invoke(context.Background(), "review", Options{})
	if strings.Contains(env.Reasoning, "abc123secret") {
		t.Errorf("reasoning leaked a credential: %q", env.Reasoning)
	}
}

func TestReasoningTruncated(t *testing.T) {
	runner := &fakeRunner{stdout: "APPROVE " + strings.Repeat("a", 900)}
	iv := newTestInvoker(t, "claude", config.DelegateConfig{Command: "claude"}, runner)

	env := iv.Invoke(context.Background(), "review", Options{})
	if len(env.Reasoning) > 500 {
		t.Errorf("reasoning length = %d, want <= 500", len(env.Reasoning))
	}
}

func TestRequestDigestStable(t *testing.T) {
	a := RequestDigest("same prompt")
	b := RequestDigest("same prompt")
	c := RequestDigest("other prompt")
	if a != b {
		t.Error("digest not stable for identical prompts")
	}
	if a == c {
		t.Error("digest collision for different prompts")
	}
}
