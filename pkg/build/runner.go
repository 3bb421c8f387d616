package build

import (
	"bufio"
	"context"
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

const maxLineLength = 4 * 1024 * 1024

// ShellRunner runs command lines through /bin/sh and streams combined
// stdout and stderr line by line.
type ShellRunner struct {
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the inherited environment
	Env []string
}

func (r *ShellRunner) Run(ctx context.Context, command string, line func(string)) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	out, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open output pipe")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start command")
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		if line != nil {
			line(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// keep the pipe empty so the process can finish writing and exit
		_, _ = io.Copy(io.Discard, out)
	}

	if err := cmd.Wait(); err != nil {
		return errors.Wrap(err, "command failed")
	}
	return errors.Wrap(scanErr, "failed to read command output")
}
