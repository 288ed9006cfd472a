package shell

import (
	"context"
	"os/exec"

	"github.com/cyclopcam/logs"
)

// We prefer to return stderr over the process exit code
type ExitErrorVerbose struct {
	E exec.ExitError
}

func (e ExitErrorVerbose) Error() string {
	if len(e.E.Stderr) != 0 {
		return string(e.E.Stderr)
	}
	return e.E.Error()
}

// Run a program to completion and return its stdout
func Run(name string, args ...string) (string, error) {
	return RunContext(context.Background(), name, args...)
}

func RunContext(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", ExitErrorVerbose{*exitErr}
		}
		return "", err
	}
	return string(out), nil
}

// Start a program in the background, and don't wait for it.
// The process is reaped when it exits, and a non-zero exit is logged.
func Start(log logs.Log, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warnf("'%v' failed: %v", name, err)
		}
	}()
	return nil
}
