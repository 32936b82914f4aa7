package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts command execution so packages that shell out to system
// tools (mmcli) can be unit-tested without the tools installed.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Output runs the command and returns its trimmed stdout. The command is
// killed when ctx ends.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", name, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s: %s", name, err.Error(), msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// FakeRunner returns canned output keyed by the full command line.
type FakeRunner struct {
	Outputs map[string]string
	Err     error
	Calls   []string
}

func (f *FakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.Calls = append(f.Calls, line)
	if f.Err != nil {
		return "", f.Err
	}
	out, ok := f.Outputs[line]
	if !ok {
		return "", errors.New("unexpected command: " + line)
	}
	return out, nil
}
