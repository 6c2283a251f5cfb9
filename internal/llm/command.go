package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandProvider runs a local command for each completion, for offline
// development against a locally hosted model. The developer prompt and
// schema go in the first argument after the configured args; the user
// prompt is written to stdin. Stdout is the completion text.
type CommandProvider struct {
	path string
	args []string
}

func NewCommandProvider(path string, args ...string) *CommandProvider {
	return &CommandProvider{path: path, args: args}
}

func (p *CommandProvider) Name() string { return "command" }

func (p *CommandProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	system := req.DeveloperPrompt
	if len(req.Schema) > 0 {
		system += "\n\nRespond with a single JSON object only, no prose, matching this JSON schema:\n" + string(req.Schema)
	}

	args := append(append([]string(nil), p.args...), system)
	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.Stdin = strings.NewReader(req.UserPrompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: command exited %d: %s", ErrTransient, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: run %s: %v", ErrPermanent, p.path, err)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, fmt.Errorf("%w: command returned empty output", ErrTransient)
	}
	return &Response{Content: text, Model: req.Model}, nil
}
