package containerdriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/fleetwatch/sentinel/internal/types"
)

// maxCapturedOutput truncates compose stdout/stderr to a bounded tail
// in the ComposeResult returned to the caller. The ActionCompleted event
// does not carry the output.
const maxCapturedOutput = 64 * 1024

// ComposeAction shells out to `docker compose` with the requested
// subcommand. Invocations are serialized by the caller (the Control
// Dispatcher's global compose mutex); this method does no locking of
// its own.
func (d *DockerDriver) ComposeAction(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error) {
	args := []string{"compose"}
	if spec.File != "" {
		args = append(args, "-f", spec.File)
	}
	if spec.Project != "" {
		args = append(args, "-p", spec.Project)
	}
	args = append(args, string(spec.Action))

	switch spec.Action {
	case types.ComposeUp:
		if spec.Detach {
			args = append(args, "-d")
		}
	case types.ComposeLogs:
		if spec.Tail != "" {
			args = append(args, "--tail", spec.Tail)
		}
	}
	args = append(args, spec.Services...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := types.ComposeResult{
		Action:   spec.Action,
		Services: spec.Services,
		Success:  runErr == nil,
		Stdout:   tail(stdout.Bytes(), maxCapturedOutput),
		Stderr:   tail(stderr.Bytes(), maxCapturedOutput),
	}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return result, fmt.Errorf("run docker compose %s: %w", spec.Action, runErr)
	}

	return result, nil
}

func tail(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[len(b)-max:])
}
