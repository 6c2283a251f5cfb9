package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ── AnthropicProvider: Messages API ───────────────────────

// AnthropicProvider relies on the SDK's built-in retry for rate limits and
// 5xx responses. The schema is passed as an instruction and the output is
// checked locally.
type AnthropicProvider struct {
	client *anthropic.Client
}

func NewAnthropicProvider(apiKey, baseURL string, maxRetries int) *AnthropicProvider {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(maxRetries),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return newAnthropicProvider(opts...)
}

func newAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	system := req.DeveloperPrompt
	if len(req.Schema) > 0 {
		system += "\n\nRespond with a single JSON object only, no prose, matching this JSON schema:\n" + string(req.Schema)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxOutputTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	if string(message.StopReason) == "refusal" {
		return nil, fmt.Errorf("%w: model refused", ErrContentFilter)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: no text content in API response", ErrSchemaViolation)
	}

	return &Response{
		Content:      text.String(),
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's "overloaded".
		return classifyStatus(apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
