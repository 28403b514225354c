package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/faults"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/pipeline"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitFileOnly(filepath.Join(os.TempDir(), "droidpipe-session-test.log"))
	os.Exit(m.Run())
}

type stubDevice struct {
	err error
}

func (d stubDevice) Available(ctx context.Context) error {
	return d.err
}

type stubProber struct {
	size uint64
	ok   bool
}

func (p stubProber) Probe(ctx context.Context, direction models.Direction, path string) (uint64, bool) {
	return p.size, p.ok
}

// scriptedRunner replays meter lines into the sink and returns a canned
// result, standing in for the real process pipeline.
type scriptedRunner struct {
	lines []string
	res   *pipeline.Result
	err   error

	mu    sync.Mutex
	calls int
	// blockCalls marks call numbers (1-based) that wait for cancellation
	// instead of completing.
	blockCalls map[int]bool
}

func okResult() *pipeline.Result {
	return &pipeline.Result{Stages: []pipeline.StageResult{
		{Name: "archive-local"}, {Name: "meter"}, {Name: "unpack-remote"},
	}}
}

func (r *scriptedRunner) Run(ctx context.Context, spec *pipeline.Spec, sink pipeline.ProgressSink) (*pipeline.Result, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	if r.blockCalls[call] {
		<-ctx.Done()
		return &pipeline.Result{Cancelled: true}, nil
	}
	for _, line := range r.lines {
		sink(line)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.res != nil {
		return r.res, nil
	}
	return okResult(), nil
}

type collector struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (c *collector) sink(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) progress() []models.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evs []models.ProgressEvent
	for _, m := range c.msgs {
		if m.Type == models.MsgTransferProgress {
			evs = append(evs, m.Payload.(models.ProgressEvent))
		}
	}
	return evs
}

func (c *collector) terminals() []models.TerminalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evs []models.TerminalEvent
	for _, m := range c.msgs {
		if m.Type == models.MsgTransferTerminal {
			evs = append(evs, m.Payload.(models.TerminalEvent))
		}
	}
	return evs
}

func testConfig() *config.Config {
	cfg := config.New()
	// The preflight only looks the tools up; the runner is scripted.
	cfg.SetToolPaths("/bin/sh", "/bin/sh", "/bin/sh")
	return cfg
}

func newTestOrchestrator(device stubDevice, prober stubProber, runner *scriptedRunner, c *collector) *Orchestrator {
	cfg := testConfig()
	return NewOrchestrator(cfg, device, prober, pipeline.NewBuilder(cfg), runner, c.sink)
}

func TestTransferCompletesWithPercent(t *testing.T) {
	c := &collector{}
	runner := &scriptedRunner{lines: []string{"0", "250000", "500000", "1000000"}}
	orch := newTestOrchestrator(stubDevice{}, stubProber{size: 1_000_000, ok: true}, runner, c)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "incoming")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.Wait())

	evs := c.progress()
	require.Len(t, evs, 4)
	want := []float64{0, 25, 50, 100}
	for i, ev := range evs {
		require.NotNil(t, ev.Percent)
		assert.InDelta(t, want[i], *ev.Percent, 0.001)
		assert.Equal(t, s.ID, ev.SessionID)
	}

	terms := c.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "completed", terms[0].State)
	assert.Equal(t, uint64(1_000_000), terms[0].BytesTransferred)
	assert.Equal(t, uint64(1_000_000), terms[0].TotalBytes)
	assert.Empty(t, terms[0].FaultKind)
	assert.Nil(t, orch.Active())
}

func TestStageFailureSurfacesDiagnostics(t *testing.T) {
	c := &collector{}
	res := okResult()
	res.Stages[0] = pipeline.StageResult{
		Name:     "archive-local",
		ExitCode: 2,
		Stderr:   "tar: photos: No such file or directory",
	}
	runner := &scriptedRunner{res: res}
	orch := newTestOrchestrator(stubDevice{}, stubProber{size: 500, ok: true}, runner, c)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.Wait())

	f := s.Fault()
	require.NotNil(t, f)
	assert.Equal(t, faults.PipelineStageFailed, f.Kind)
	assert.Contains(t, f.Detail, "archive-local")
	assert.Contains(t, f.Detail, "exited with code 2")

	terms := c.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "failed", terms[0].State)
	assert.Equal(t, "pipeline_stage_failed", terms[0].FaultKind)
	assert.Contains(t, terms[0].Diagnostics, "No such file or directory")
}

func TestProbeFailureDegradesToUnknownTotal(t *testing.T) {
	c := &collector{}
	runner := &scriptedRunner{lines: []string{"100", "200"}}
	orch := newTestOrchestrator(stubDevice{}, stubProber{ok: false}, runner, c)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.Wait())

	evs := c.progress()
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Nil(t, ev.Percent)
	}
	assert.Equal(t, uint64(200), evs[1].BytesTransferred)

	terms := c.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "completed", terms[0].State)
	assert.Zero(t, terms[0].TotalBytes)
}

func TestCancelDrivesSessionToCancelled(t *testing.T) {
	c := &collector{}
	runner := &scriptedRunner{blockCalls: map[int]bool{1: true}}
	orch := newTestOrchestrator(stubDevice{}, stubProber{size: 100, ok: true}, runner, c)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.State() == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	orch.Cancel()
	assert.Equal(t, StateCancelled, s.State())

	f := s.Fault()
	require.NotNil(t, f)
	assert.Equal(t, faults.UserCancelled, f.Kind)

	terms := c.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "cancelled", terms[0].State)
	assert.Equal(t, "user_cancelled", terms[0].FaultKind)
	assert.Nil(t, orch.Active())
}

func TestStartCancelsActiveSessionFirst(t *testing.T) {
	c := &collector{}
	runner := &scriptedRunner{
		lines:      []string{"50"},
		blockCalls: map[int]bool{1: true},
	}
	orch := newTestOrchestrator(stubDevice{}, stubProber{size: 100, ok: true}, runner, c)

	dir := t.TempDir()
	s1, err := orch.Start(models.DirectionPush, dir, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s1.State() == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	s2, err := orch.Start(models.DirectionPush, dir, "")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	// The replaced session is fully terminal before the new one starts.
	assert.Equal(t, StateCancelled, s1.State())
	assert.Equal(t, StateCompleted, s2.Wait())

	terms := c.terminals()
	require.Len(t, terms, 2)
	assert.Equal(t, "cancelled", terms[0].State)
	assert.Equal(t, s1.ID, terms[0].SessionID)
	assert.Equal(t, "completed", terms[1].State)
	assert.Equal(t, s2.ID, terms[1].SessionID)
}

func TestCancelWithoutActiveSessionIsNoop(t *testing.T) {
	orch := newTestOrchestrator(stubDevice{}, stubProber{}, &scriptedRunner{}, &collector{})
	orch.Cancel()
	assert.Nil(t, orch.Active())
}

func TestStartRejectsInvalidArguments(t *testing.T) {
	orch := newTestOrchestrator(stubDevice{}, stubProber{}, &scriptedRunner{}, &collector{})

	_, err := orch.Start(models.Direction("sideways"), t.TempDir(), "")
	assert.Error(t, err)

	_, err = orch.Start(models.DirectionPush, "", "")
	assert.True(t, faults.IsKind(err, faults.PathInvalid))

	_, err = orch.Start(models.DirectionPull, t.TempDir(), "/data/local/tmp")
	assert.True(t, faults.IsKind(err, faults.PathInvalid))

	assert.Nil(t, orch.Active())
}

func TestPushMissingLocalPathFails(t *testing.T) {
	c := &collector{}
	orch := newTestOrchestrator(stubDevice{}, stubProber{size: 1, ok: true}, &scriptedRunner{}, c)

	s, err := orch.Start(models.DirectionPush, filepath.Join(t.TempDir(), "missing"), "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.Wait())

	f := s.Fault()
	require.NotNil(t, f)
	assert.Equal(t, faults.PathInvalid, f.Kind)
}

func TestDeviceUnavailableFailsSession(t *testing.T) {
	c := &collector{}
	device := stubDevice{err: faults.New(faults.DeviceUnavailable, "adb.available", "no devices found", nil)}
	orch := newTestOrchestrator(device, stubProber{}, &scriptedRunner{}, c)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.Wait())

	terms := c.terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "device_unavailable", terms[0].FaultKind)
}

func TestToolMissingFailsSession(t *testing.T) {
	c := &collector{}
	cfg := testConfig()
	cfg.SetToolPaths("/bin/sh", "/nonexistent/droidpipe-pv", "/bin/sh")
	orch := NewOrchestrator(cfg, stubDevice{}, stubProber{}, pipeline.NewBuilder(cfg), &scriptedRunner{}, c.sink)

	s, err := orch.Start(models.DirectionPush, t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.Wait())

	f := s.Fault()
	require.NotNil(t, f)
	assert.Equal(t, faults.ToolMissing, f.Kind)
}
