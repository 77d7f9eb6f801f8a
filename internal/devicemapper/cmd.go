package devicemapper

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Cmd abstracts command execution for testing.
type Cmd interface {
	CombinedOutput() ([]byte, error)
	SetStdin(r io.Reader)
}

// ExecCommandContextFactory creates a Cmd for the given command and arguments.
type ExecCommandContextFactory func(ctx context.Context, name string, arg ...string) Cmd

// ExecCommandContext is overridable for testing purposes.
var ExecCommandContext ExecCommandContextFactory = func(
	ctx context.Context,
	name string,
	arg ...string,
) Cmd {
	return (*execCmd)(exec.CommandContext(ctx, name, arg...))
}

type execCmd exec.Cmd

var _ Cmd = &execCmd{}

func (r *execCmd) CombinedOutput() ([]byte, error) { return (*exec.Cmd)(r).CombinedOutput() }
func (r *execCmd) SetStdin(in io.Reader)           { r.Stdin = in }

func withOutput(err error, out []byte) error {
	if len(out) == 0 {
		return err
	}
	return fmt.Errorf("%w; output: %q", err, string(out))
}
