package llm

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Request is one structured-output completion.
type Request struct {
	Model           string
	DeveloperPrompt string
	UserPrompt      string
	Schema          json.RawMessage
	SchemaName      string
	MaxOutputTokens int
}

// Response holds the raw text and the token usage of one call.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is one chat-completion backend. Implementations perform their
// own short retry loop on rate-limit and transient errors and classify
// failures with the sentinels in errors.go.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// FuncProvider adapts a function into a Provider. Tests and the mock
// generator use it.
type FuncProvider struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (*Response, error)

	calls atomic.Int64
	mu    sync.Mutex
	reqs  []Request
}

func (f *FuncProvider) Name() string {
	if f.ProviderName == "" {
		return "func"
	}
	return f.ProviderName
}

func (f *FuncProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.Fn(ctx, req)
}

// Calls returns how many times Complete was invoked.
func (f *FuncProvider) Calls() int {
	return int(f.calls.Load())
}

// Requests returns a copy of every request seen.
func (f *FuncProvider) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.reqs...)
}
