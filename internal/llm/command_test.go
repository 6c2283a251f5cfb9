package llm

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestCommandProviderEchoesStdin(t *testing.T) {
	sh := requireShell(t)
	p := NewCommandProvider(sh, "-c", "cat")

	resp, err := p.Complete(context.Background(), Request{
		Model:           "local",
		DeveloperPrompt: "be terse",
		UserPrompt:      `{"questions": []}`,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"questions": []}`, resp.Content)
	assert.Equal(t, "local", resp.Model)
	assert.Equal(t, "command", p.Name())
}

func TestCommandProviderPassesSystemPrompt(t *testing.T) {
	sh := requireShell(t)
	// with -c the first extra argument becomes $0
	p := NewCommandProvider(sh, "-c", `printf '%s' "$0"`)

	resp, err := p.Complete(context.Background(), Request{DeveloperPrompt: "system text"})
	require.NoError(t, err)
	assert.Equal(t, "system text", resp.Content)
}

func TestCommandProviderErrors(t *testing.T) {
	sh := requireShell(t)

	_, err := NewCommandProvider(sh, "-c", "echo boom >&2; exit 3").Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "boom")

	_, err = NewCommandProvider(sh, "-c", "true").Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrTransient)

	_, err = NewCommandProvider("/nonexistent/llm-binary").Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrPermanent)
}
