package delegate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"

	"github.com/alderai/triad/internal/config"
	"github.com/alderai/triad/pkg/models"
)

// Sonnet pricing, used to estimate cost from reported usage:
// $3/1M input, $15/1M output.
const (
	apiInputCostPerMTok  = 3.0
	apiOutputCostPerMTok = 15.0
)

// APIRunner answers prompts through the Anthropic API instead of a local
// CLI. It implements the same Backend contract as the CLI Invoker so the
// router can mix both kinds of delegate.
type APIRunner struct {
	name       string
	client     anthropic.Client
	model      anthropic.Model
	maxTimeout time.Duration
	parser     *DecisionParser
	scorer     ConfidenceScorer
}

// NewAPIRunner creates an API-backed delegate.
func NewAPIRunner(name string, dcfg config.DelegateConfig, acfg config.AnthropicConfig, limits config.InvokerConfig) (*APIRunner, error) {
	var opts []option.RequestOption

	if acfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if acfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(acfg.AWSRegion))
		}
		if acfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(acfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := acfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(dcfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if acfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	parser, err := NewDecisionParserFromFile(patternLibraryPath(limits.TranscriptDir))
	if err != nil {
		return nil, err
	}

	maxTimeout := limits.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = 10 * time.Minute
	}

	return &APIRunner{
		name:       name,
		client:     anthropic.NewClient(opts...),
		model:      model,
		maxTimeout: maxTimeout,
		parser:     parser,
		scorer:     KeywordScorer{},
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to the
// Bedrock cross-region inference profile format (us.anthropic.{model}-v1:0).
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Name returns the delegate ID.
func (r *APIRunner) Name() string {
	return r.name
}

// Invoke sends the prompt as a single user message and normalizes the
// response into an envelope. API and transport failures map to statuses,
// never to a returned error.
func (r *APIRunner) Invoke(ctx context.Context, prompt string, opts Options) *models.Envelope {
	start := time.Now()
	env := &models.Envelope{
		Delegate:   r.name,
		Decision:   models.DecisionAbstain,
		Confidence: 0,
		TraceID:    uuid.New().String(),
	}

	timeout := opts.Timeout
	if timeout <= 0 || timeout > r.maxTimeout {
		timeout = r.maxTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := r.model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}

	resp, err := r.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	env.Duration = time.Since(start)

	if err != nil {
		env.Status = classifyAPIError(callCtx, err)
		env.Reasoning = truncate(MaskSecrets(err.Error()), 500)
		return env
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	output := strings.TrimSpace(text.String())

	env.Status = models.StatusSuccess
	env.Decision = r.parser.Parse(output)
	env.Confidence = r.scorer.Score(output)
	env.Reasoning = truncate(MaskSecrets(output), 500)
	env.Tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	env.Cost = float64(resp.Usage.InputTokens)/1_000_000*apiInputCostPerMTok +
		float64(resp.Usage.OutputTokens)/1_000_000*apiOutputCostPerMTok
	return env
}

// classifyAPIError maps SDK errors to envelope statuses.
func classifyAPIError(ctx context.Context, err error) models.InvokeStatus {
	if ctx.Err() == context.DeadlineExceeded {
		return models.StatusTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded"):
		return models.StatusRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "api key"):
		return models.StatusAuthError
	default:
		return models.StatusError
	}
}

var _ Backend = (*APIRunner)(nil)
