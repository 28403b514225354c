package utils

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 10 * time.Second

// RunCommand runs a short-lived command and returns its combined output.
// A deadline is applied when the caller's context has none so a wedged
// adb invocation cannot stall a probe forever.
func RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	var out bytes.Buffer
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCommandTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", name, err)
	}
	err := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("command %s timed out", name)
	}
	return out.String(), err
}

// FirstLine trims output down to its first non-empty line.
func FirstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
