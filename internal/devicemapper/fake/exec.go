// Package fake provides test doubles for the devicemapper package: a
// scripted dmsetup executor and an in-memory DeviceMapper.
package fake

import (
	"context"
	"io"
	"slices"
	"testing"

	"github.com/deploymenttheory/go-dynpart/internal/devicemapper"
)

type Exec struct {
	cmds []*ExpectedCmd
}

func (b *Exec) ExpectCommands(cmds ...*ExpectedCmd) {
	b.cmds = append(b.cmds, cmds...)
}

func (b *Exec) Setup(t *testing.T) {
	t.Helper()

	tmp := devicemapper.ExecCommandContext

	i := 0

	devicemapper.ExecCommandContext = func(_ context.Context, name string, args ...string) devicemapper.Cmd {
		if len(b.cmds) <= i {
			t.Fatalf("expected %d command executions, got more", len(b.cmds))
		}
		cmd := b.cmds[i]

		if !cmd.Matches(name, args...) {
			t.Fatalf("ExecCommandContext was called with unexpected arguments %s %v (call index %d)", name, args, i)
		}

		i++
		return cmd
	}

	t.Cleanup(func() {
		devicemapper.ExecCommandContext = tmp

		if i != len(b.cmds) {
			t.Errorf("expected %d command executions, got %d", len(b.cmds), i)
		}
	})
}

type ExpectedCmd struct {
	Name string
	Args []string

	ResultOutput []byte
	ResultErr    error

	// Stdin holds what the command was given on standard input.
	Stdin string
	// OnRun is called when the command runs, e.g. to create a device node.
	OnRun func()
}

var _ devicemapper.Cmd = &ExpectedCmd{}

func (c *ExpectedCmd) Matches(name string, args ...string) bool {
	return c.Name == name && slices.Equal(c.Args, args)
}

func (c *ExpectedCmd) CombinedOutput() ([]byte, error) {
	if c.OnRun != nil {
		c.OnRun()
	}
	return c.ResultOutput, c.ResultErr
}

func (c *ExpectedCmd) SetStdin(r io.Reader) {
	data, _ := io.ReadAll(r)
	c.Stdin = string(data)
}

type ExitErr struct{ Code int }

func (e ExitErr) Error() string { return "ExitErr" }
func (e ExitErr) ExitCode() int { return e.Code }
