package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shStage builds a pipeline stage out of a shell snippet so runner tests
// exercise real processes without the adb/pv/tar toolchain.
func shStage(name, script string, stdin, stdout StreamMode, meter bool) Stage {
	return Stage{
		Name:   name,
		Path:   "/bin/sh",
		Args:   []string{"-c", script},
		Stdin:  stdin,
		Stdout: stdout,
		Meter:  meter,
	}
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) sink(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestRunnerSuccess(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		shStage("produce", "printf abc", StreamNull, StreamPipe, false),
		shStage("meter", "cat; echo 3 >&2", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
	}}
	var c lineCollector

	res, err := NewRunner(time.Second).Run(context.Background(), spec, c.sink)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.FirstFailure())
	assert.False(t, res.Cancelled)
	assert.Equal(t, []string{"3"}, c.all())
}

func TestRunnerReportsFailingStageWithStderr(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		shStage("produce", "echo 'tar: photos: No such file or directory' >&2; exit 2", StreamNull, StreamPipe, false),
		shStage("meter", "cat", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
	}}
	var c lineCollector

	res, err := NewRunner(time.Second).Run(context.Background(), spec, c.sink)
	require.NoError(t, err)

	failed := res.FirstFailure()
	require.NotNil(t, failed)
	assert.Equal(t, "produce", failed.Name)
	assert.Equal(t, 2, failed.ExitCode)
	assert.Contains(t, failed.Stderr, "No such file or directory")
	assert.Contains(t, res.Diagnostics(), "[produce]")
	assert.Empty(t, c.all())
}

func TestRunnerEarliestFailureWins(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		shStage("produce", "printf abc", StreamNull, StreamPipe, false),
		shStage("meter", "cat >/dev/null; exit 4", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null; exit 5", StreamPipe, StreamNull, false),
	}}

	res, err := NewRunner(time.Second).Run(context.Background(), spec, nil)
	require.NoError(t, err)

	failed := res.FirstFailure()
	require.NotNil(t, failed)
	assert.Equal(t, "meter", failed.Name)
	assert.Equal(t, 4, failed.ExitCode)
}

func TestRunnerMeterLinesSkipDiagnostics(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		shStage("produce", "printf abcdef", StreamNull, StreamPipe, false),
		shStage("meter", "cat; { echo 3; echo 'pv: something odd'; echo 6; } >&2", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
	}}
	var c lineCollector

	res, err := NewRunner(time.Second).Run(context.Background(), spec, c.sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "6"}, c.all())
	// The non-numeric line stays with the stage as failure context.
	assert.Contains(t, res.Stages[1].Stderr, "something odd")
}

func TestRunnerSetupFailureStopsRun(t *testing.T) {
	spec := &Spec{
		Setup: []Stage{shStage("mkdir-remote", "echo 'mkdir: permission denied' >&2; exit 7", StreamNull, StreamNull, false)},
		Stages: []Stage{
			shStage("produce", "printf abc", StreamNull, StreamPipe, false),
			shStage("meter", "cat", StreamPipe, StreamPipe, true),
			shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
		},
	}

	res, err := NewRunner(time.Second).Run(context.Background(), spec, nil)
	require.NoError(t, err)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, 7, res.Stages[0].ExitCode)
	assert.Contains(t, res.Stages[0].Stderr, "permission denied")
	assert.False(t, res.Cancelled)
}

func TestRunnerCreatesLocalDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "dest")
	spec := &Spec{
		LocalDestDir: dest,
		Stages: []Stage{
			shStage("produce", "printf abc", StreamNull, StreamPipe, false),
			shStage("meter", "cat", StreamPipe, StreamPipe, true),
			shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
		},
	}

	_, err := NewRunner(time.Second).Run(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.DirExists(t, dest)
}

func TestRunnerCancelReapsEveryStage(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		shStage("produce", "while :; do sleep 0.05; done", StreamNull, StreamPipe, false),
		shStage("meter", "cat", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := NewRunner(2 * time.Second).Run(ctx, spec, nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Run returns only after all three stages were waited on.
	assert.True(t, res.Cancelled)
	require.Len(t, res.Stages, 3)
	assert.NotEqual(t, 0, res.Stages[0].ExitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunnerSpawnFailure(t *testing.T) {
	spec := &Spec{Stages: []Stage{
		{Name: "produce", Path: "/nonexistent/droidpipe-producer", Stdout: StreamPipe},
		shStage("meter", "cat", StreamPipe, StreamPipe, true),
		shStage("consume", "cat >/dev/null", StreamPipe, StreamNull, false),
	}}

	res, err := NewRunner(time.Second).Run(context.Background(), spec, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "produce")
}
