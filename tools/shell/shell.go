// Package shell provides the run_command tool: execute a shell command inside
// the sandbox directory with a deadline and an output cap.
package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	aster "github.com/corven/aster"
)

const (
	// MaxOutputRunes caps combined stdout+stderr returned to the model.
	MaxOutputRunes = 20_000
	// DefaultTimeout bounds one command execution.
	DefaultTimeout = 30 * time.Second
)

// Tools holds the sandbox working directory for the shell tool.
type Tools struct {
	dir     string
	timeout time.Duration
}

// Option configures shell Tools.
type Option func(*Tools)

// WithTimeout overrides the per-command deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Tools) { t.timeout = d }
}

// New creates shell tools rooted in sandboxDir.
func New(sandboxDir string, opts ...Option) *Tools {
	t := &Tools{dir: sandboxDir, timeout: DefaultTimeout}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Register adds run_command to the registry.
func (t *Tools) Register(reg *aster.ToolRegistry) error {
	return reg.Register(aster.Tool{
		Name:        "run_command",
		Description: "Run a shell command in the workspace directory and return its output and exit code.",
		Parameters:  []byte(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to run"}},"required":["command"]}`),
		Handler:     t.run,
	})
}

func (t *Tools) run(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = t.dir
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %s", t.timeout)
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("run command: %w", err)
		}
	}

	text := string(output)
	if r := []rune(text); len(r) > MaxOutputRunes {
		text = string(r[:MaxOutputRunes]) + "\n\n[output truncated]"
	}

	return map[string]any{
		"command":   command,
		"output":    text,
		"exit_code": exitCode,
	}, nil
}
