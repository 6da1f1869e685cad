// Package executor runs local commands, used for the interactive ssh
// session into an instance.
package executor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

type Executor struct {
	logger io.Writer
}

func NewExecutor(logger io.Writer) *Executor {
	e := &Executor{logger: logger}
	return e
}

func (e *Executor) Run(ctx context.Context, command *Cmd) error {
	_, _ = io.WriteString(e.logger, "> "+command.Binary+" "+strings.Join(command.args, " ")+"\n")

	start := time.Now()

	cmd := exec.CommandContext(ctx, command.Binary, command.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(e.logger, os.Stderr)
	cmd.Env = append(os.Environ(), command.envs...)

	if command.Interactive {
		cmd.Stdin = os.Stdin
	}

	err := cmd.Run()

	_, _ = io.WriteString(e.logger, time.Since(start).String()+"\n")

	if err != nil {
		_, _ = io.WriteString(e.logger, err.Error()+"\n")
		return err
	}

	return nil
}

type Cmd struct {
	Binary      string
	Interactive bool
	args        []string
	envs        []string
}

func (c *Cmd) Add(args ...string) {
	c.args = append(c.args, args...)
}

func (c *Cmd) Env(env string) {
	c.envs = append(c.envs, env)
}

func (c *Cmd) Command() []string {
	return c.args
}
