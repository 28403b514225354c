package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/droidpipe/agent/internal/adb"
	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/faults"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/pipeline"
	"github.com/droidpipe/agent/internal/probe"
	"github.com/droidpipe/agent/internal/progress"
	"github.com/droidpipe/agent/internal/sysinfo"
	"github.com/droidpipe/agent/pkg/logger"
)

// DeviceChecker verifies the transport can reach the device.
type DeviceChecker interface {
	Available(ctx context.Context) error
}

// SizeProber measures the source tree; ok=false degrades the session to
// unknown-total mode.
type SizeProber interface {
	Probe(ctx context.Context, direction models.Direction, path string) (uint64, bool)
}

// SpecBuilder produces the process graph for a transfer.
type SpecBuilder interface {
	ResolveRemote(remote string) (string, error)
	Build(direction models.Direction, localPath, remotePath string, totalBytes uint64) (*pipeline.Spec, error)
}

// PipelineRunner executes a spec and reports per-stage outcomes.
type PipelineRunner interface {
	Run(ctx context.Context, spec *pipeline.Spec, sink pipeline.ProgressSink) (*pipeline.Result, error)
}

// EventSink receives every outbound notification: progress samples,
// state transitions and exactly one terminal event per session.
type EventSink func(models.Message)

// Orchestrator owns the one-active-transfer rule. Starting a transfer
// while another runs cancels the old one first (cancel-then-replace);
// sessions are strictly serialized per instance, so separate instances
// (tests included) never interfere.
type Orchestrator struct {
	cfg     *config.Config
	device  DeviceChecker
	prober  SizeProber
	builder SpecBuilder
	runner  PipelineRunner
	sink    EventSink

	startMu sync.Mutex
	mu      sync.Mutex
	active  *Session
}

// New wires the real toolchain components.
func New(cfg *config.Config, sink EventSink) *Orchestrator {
	device := adb.New(cfg.AdbPath())
	return NewOrchestrator(cfg, device, probe.NewProber(device), pipeline.NewBuilder(cfg), pipeline.NewRunner(cfg.CancelGrace()), sink)
}

func NewOrchestrator(cfg *config.Config, device DeviceChecker, prober SizeProber, builder SpecBuilder, runner PipelineRunner, sink EventSink) *Orchestrator {
	if sink == nil {
		sink = func(models.Message) {}
	}
	return &Orchestrator{
		cfg:     cfg,
		device:  device,
		prober:  prober,
		builder: builder,
		runner:  runner,
		sink:    sink,
	}
}

// Active returns the current session, nil when none is in flight.
func (o *Orchestrator) Active() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Start begins a transfer. Any active session is driven to Cancelled and
// fully reaped before the new one enters Probing.
func (o *Orchestrator) Start(direction models.Direction, localPath, remotePath string) (*Session, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if !direction.Valid() {
		return nil, fmt.Errorf("unknown transfer direction %q", direction)
	}
	if localPath == "" {
		return nil, faults.New(faults.PathInvalid, "session.start", "local path is empty", nil)
	}
	remote, err := o.builder.ResolveRemote(remotePath)
	if err != nil {
		return nil, err
	}

	if prev := o.Active(); prev != nil {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(direction, localPath, remote, cancel)
	o.mu.Lock()
	o.active = s
	o.mu.Unlock()

	logger.Log.Info("transfer session starting",
		"session", s.ID, "direction", direction, "local", localPath, "remote", remote)
	go o.supervise(ctx, s)
	return s, nil
}

// Cancel stops the active session, if any, and returns only after all of
// its stage processes have been waited on.
func (o *Orchestrator) Cancel() {
	s := o.Active()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// supervise is the single flow that walks one session through its
// lifecycle: probe, build, run, terminal report.
func (o *Orchestrator) supervise(ctx context.Context, s *Session) {
	finish := func(st State, f *faults.Fault, diagnostics string) {
		s.setTerminal(st, f)
		o.emitTerminal(s, diagnostics)
		o.mu.Lock()
		if o.active == s {
			o.active = nil
		}
		o.mu.Unlock()
		close(s.done)
	}
	cancelledFault := func() *faults.Fault {
		return faults.New(faults.UserCancelled, "session.run", "transfer cancelled", nil)
	}

	s.setState(StateProbing)
	o.emitState(s)

	if f := o.preflight(ctx, s); f != nil {
		if ctx.Err() != nil {
			finish(StateCancelled, cancelledFault(), "")
		} else {
			finish(StateFailed, f, f.Detail)
		}
		return
	}

	total, ok := o.prober.Probe(ctx, s.Direction, s.sourcePath())
	if !ok {
		// Absorbed: the session proceeds without a percentage.
		logger.Log.Warn("size probe failed, continuing in unknown-total mode",
			"session", s.ID, "kind", faults.SizeProbeFailed.String())
		total = 0
	}
	s.setTotal(total)
	o.checkFreeSpace(s, total)

	spec, err := o.builder.Build(s.Direction, s.LocalPath, s.RemotePath, total)
	if err != nil {
		finish(StateFailed, asFault(err, "session.build"), "")
		return
	}
	if ctx.Err() != nil {
		finish(StateCancelled, cancelledFault(), "")
		return
	}

	parser := progress.NewParser(total, o.cfg.SpeedWindow())
	s.setState(StateRunning)
	o.emitState(s)

	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for ev := range parser.Events() {
			ev.SessionID = s.ID
			s.recordProgress(ev.BytesTransferred)
			o.sink(models.Message{Type: models.MsgTransferProgress, Payload: ev})
		}
	}()

	res, runErr := o.runner.Run(ctx, spec, parser.Feed)
	parser.Close()
	consumer.Wait()

	switch {
	case ctx.Err() != nil || (res != nil && res.Cancelled):
		finish(StateCancelled, cancelledFault(), diagnosticsOf(res))
	case runErr != nil:
		finish(StateFailed, classifySpawn(runErr), "")
	default:
		if failed := res.FirstFailure(); failed != nil {
			detail := fmt.Sprintf("stage %s exited with code %d", failed.Name, failed.ExitCode)
			if failed.Stderr != "" {
				detail += ": " + failed.Stderr
			}
			finish(StateFailed, faults.New(faults.PipelineStageFailed, "session.run", detail, nil), res.Diagnostics())
			return
		}
		finish(StateCompleted, nil, "")
	}
}

// preflight verifies the toolchain and paths before any probe or spawn.
func (o *Orchestrator) preflight(ctx context.Context, s *Session) *faults.Fault {
	for _, tool := range []string{o.cfg.PvPath(), o.cfg.TarPath()} {
		if _, err := exec.LookPath(tool); err != nil {
			return faults.New(faults.ToolMissing, "session.preflight", tool, err)
		}
	}
	if err := o.device.Available(ctx); err != nil {
		return asFault(err, "session.preflight")
	}
	if s.Direction == models.DirectionPush {
		if _, err := os.Stat(s.LocalPath); err != nil {
			if os.IsPermission(err) {
				return faults.New(faults.PermissionDenied, "session.preflight", s.LocalPath, err)
			}
			return faults.New(faults.PathInvalid, "session.preflight", s.LocalPath, err)
		}
	}
	return nil
}

// checkFreeSpace logs an advisory when the probed size exceeds free disk
// on the pull destination. Advisory only; the transfer still proceeds.
func (o *Orchestrator) checkFreeSpace(s *Session, total uint64) {
	if s.Direction != models.DirectionPull || total == 0 {
		return
	}
	free, err := sysinfo.FreeBytes(filepath.Dir(s.LocalPath))
	if err != nil {
		return
	}
	if total > free {
		logger.Log.Warn("probed size exceeds free space on destination",
			"session", s.ID, "total", total, "free", free)
	}
}

func (o *Orchestrator) emitState(s *Session) {
	o.sink(models.Message{
		Type:    models.MsgTransferState,
		Payload: models.StateEvent{SessionID: s.ID, State: s.State().String()},
	})
}

func (o *Orchestrator) emitTerminal(s *Session, diagnostics string) {
	ev := models.TerminalEvent{
		SessionID:        s.ID,
		State:            s.State().String(),
		Diagnostics:      diagnostics,
		BytesTransferred: s.Transferred(),
		TotalBytes:       s.TotalBytes(),
		Duration:         s.elapsed(),
	}
	if f := s.Fault(); f != nil {
		ev.FaultKind = f.Kind.String()
		if ev.Diagnostics == "" {
			ev.Diagnostics = f.Detail
		}
	}
	logger.Log.Info("transfer session finished",
		"session", s.ID, "state", ev.State, "bytes", ev.BytesTransferred, "fault", ev.FaultKind)
	o.sink(models.Message{Type: models.MsgTransferTerminal, Payload: ev})
}

func (s *Session) sourcePath() string {
	if s.Direction == models.DirectionPull {
		return s.RemotePath
	}
	return s.LocalPath
}

// classifySpawn maps a runner spawn error onto the taxonomy.
func classifySpawn(err error) *faults.Fault {
	var f *faults.Fault
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return faults.New(faults.ToolMissing, "session.run", "", err)
	case errors.Is(err, os.ErrPermission):
		return faults.New(faults.PermissionDenied, "session.run", "", err)
	default:
		return faults.New(faults.PipelineStageFailed, "session.run", "", err)
	}
}

func asFault(err error, op string) *faults.Fault {
	var f *faults.Fault
	if errors.As(err, &f) {
		return f
	}
	return faults.New(faults.PipelineStageFailed, op, "", err)
}

func diagnosticsOf(res *pipeline.Result) string {
	if res == nil {
		return ""
	}
	return res.Diagnostics()
}
