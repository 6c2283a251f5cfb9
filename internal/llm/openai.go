package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"
)

// ── OpenAIProvider: Chat Completions ──────────────────────

// OpenAIProvider calls chat completions with a strict JSON schema response
// format. go-openai does not retry, so each call runs under an exponential
// backoff bounded by maxTries.
type OpenAIProvider struct {
	client     *openai.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
}

func NewOpenAIProvider(apiKey, baseURL string, maxTries int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIProvider(openai.NewClientWithConfig(cfg), maxTries)
}

func newOpenAIProvider(client *openai.Client, maxTries int) *OpenAIProvider {
	if maxTries <= 0 {
		maxTries = 5
	}
	return &OpenAIProvider{
		client:   client,
		maxTries: uint(maxTries),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:               req.Model,
		MaxCompletionTokens: req.MaxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.DeveloperPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	op := func() (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			classified := classifyOpenAIError(err)
			if IsRetryable(classified) {
				return resp, classified
			}
			return resp, backoff.Permanent(classified)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxTries),
	)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrSchemaViolation)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter || choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrContentFilter, choice.Message.Refusal)
	}

	return &Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		switch {
		case code == "content_filter":
			return fmt.Errorf("%w: %v", ErrContentFilter, err)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests && code == "insufficient_quota":
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		default:
			return classifyStatus(apiErr.HTTPStatusCode, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	// Connection resets and other network failures.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	case status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
}
