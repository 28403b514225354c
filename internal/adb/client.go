package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/droidpipe/agent/internal/faults"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/droidpipe/agent/pkg/utils"
)

// Client wraps the adb binary: the transport that executes commands on
// the device and pipes stdin/stdout between host and device.
type Client struct {
	bin string
}

func New(bin string) *Client {
	return &Client{bin: bin}
}

func (c *Client) Bin() string {
	return c.bin
}

// Available checks the adb connection state (`adb get-state`).
func (c *Client) Available(ctx context.Context) error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return faults.New(faults.ToolMissing, "adb.available", c.bin, err)
	}
	out, err := utils.RunCommand(ctx, c.bin, "get-state")
	if err != nil {
		logger.Log.Error("adb connection failed", "output", strings.TrimSpace(out), "err", err)
		return faults.New(faults.DeviceUnavailable, "adb.available", strings.TrimSpace(out), err)
	}
	return nil
}

// Shell runs a command on the device and returns its combined output.
func (c *Client) Shell(ctx context.Context, args ...string) (string, error) {
	shellArgs := append([]string{"shell"}, args...)
	out, err := utils.RunCommand(ctx, c.bin, shellArgs...)
	if err != nil {
		return out, fmt.Errorf("adb shell %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// EnsureDir creates a directory on the device if absent. Idempotent.
func (c *Client) EnsureDir(ctx context.Context, dir string) error {
	if _, err := c.Shell(ctx, "mkdir", "-p", dir); err != nil {
		return fmt.Errorf("failed to create device directory %s: %w", dir, err)
	}
	return nil
}

// DirSize measures a device directory in bytes via `du -s -b`. Output
// looks like "174598144  /sdcard/Transfer"; the first field is the size.
func (c *Client) DirSize(ctx context.Context, path string) (uint64, error) {
	out, err := c.Shell(ctx, "du", "-s", "-b", path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(utils.FirstLine(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty du output for %s", path)
	}
	size, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable du output %q: %w", fields[0], err)
	}
	return size, nil
}
