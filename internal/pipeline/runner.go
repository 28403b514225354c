package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/droidpipe/agent/pkg/logger"
)

// maxDiagnostics bounds captured stderr per stage so a chatty tool
// cannot grow the failure report without limit.
const maxDiagnostics = 16 * 1024

// StageResult records one stage's outcome in submission order.
type StageResult struct {
	Name     string
	ExitCode int
	Stderr   string
}

// Result is the terminal outcome of a pipeline run. All stages have been
// waited on by the time a Result exists; no process handle is left
// outstanding.
type Result struct {
	Stages    []StageResult
	Cancelled bool
}

// FirstFailure returns the earliest stage (submission order) that exited
// non-zero, or nil if every stage succeeded.
func (r *Result) FirstFailure() *StageResult {
	for i := range r.Stages {
		if r.Stages[i].ExitCode != 0 {
			return &r.Stages[i]
		}
	}
	return nil
}

// Diagnostics concatenates per-stage stderr text, earliest stage first.
func (r *Result) Diagnostics() string {
	var b strings.Builder
	for _, st := range r.Stages {
		if st.Stderr == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", st.Name, st.Stderr)
	}
	return b.String()
}

// ProgressSink receives the metering stage's numeric lines.
type ProgressSink func(line string)

// Runner spawns a Spec as a connected process pipeline and supervises it
// to completion. The data path is raw pipe fds between stages; the
// runner itself never buffers archive bytes.
type Runner struct {
	grace time.Duration
}

func NewRunner(grace time.Duration) *Runner {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Runner{grace: grace}
}

// Run executes the spec. Stage exit codes land in the Result; a non-nil
// error means the pipeline could not be spawned at all (tool missing,
// pipe allocation failure).
func (r *Runner) Run(ctx context.Context, spec *Spec, sink ProgressSink) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	res := &Result{}

	if spec.LocalDestDir != "" {
		if err := os.MkdirAll(spec.LocalDestDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	for _, st := range spec.Setup {
		done, err := r.runSetup(ctx, st, res)
		if err != nil {
			return nil, err
		}
		if done {
			res.Cancelled = ctx.Err() != nil
			return res, nil
		}
	}

	return r.runPipeline(ctx, spec, sink, res)
}

// runSetup runs one preparatory stage to completion. done reports that
// the stage failed and the run should stop with the Result as-is.
func (r *Runner) runSetup(ctx context.Context, st Stage, res *Result) (done bool, err error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, st.Path, st.Args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	code, waitErr := exitCode(runErr)
	if waitErr != nil {
		return false, fmt.Errorf("failed to run setup stage %s: %w", st.Name, waitErr)
	}
	res.Stages = append(res.Stages, StageResult{
		Name:     st.Name,
		ExitCode: code,
		Stderr:   strings.TrimSpace(out.String()),
	})
	return code != 0, nil
}

func (r *Runner) runPipeline(ctx context.Context, spec *Spec, sink ProgressSink, res *Result) (*Result, error) {
	n := len(spec.Stages)
	cmds := make([]*exec.Cmd, n)
	for i, st := range spec.Stages {
		cmds[i] = exec.Command(st.Path, st.Args...)
	}

	// Adjacent stages share a raw pipe: stage i writes the archive bytes
	// straight into stage i+1. The parent closes its fd copies after
	// spawning so EOF propagates when a stage exits.
	var pipeFds []*os.File
	closeFds := func() {
		for _, f := range pipeFds {
			f.Close()
		}
		pipeFds = nil
	}
	for i := 0; i < n-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeFds()
			return nil, fmt.Errorf("failed to allocate stage pipe: %w", err)
		}
		cmds[i].Stdout = pw
		cmds[i+1].Stdin = pr
		pipeFds = append(pipeFds, pr, pw)
	}

	stderrs := make([]io.ReadCloser, n)
	for i := range cmds {
		sp, err := cmds[i].StderrPipe()
		if err != nil {
			closeFds()
			return nil, fmt.Errorf("failed to open stderr for stage %s: %w", spec.Stages[i].Name, err)
		}
		stderrs[i] = sp
	}

	started := 0
	var startErr error
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = fmt.Errorf("failed to start stage %s: %w", spec.Stages[i].Name, err)
			break
		}
		started++
	}
	closeFds()
	if startErr != nil {
		for i := 0; i < started; i++ {
			_ = cmds[i].Process.Kill()
		}
		for i := 0; i < started; i++ {
			_ = cmds[i].Wait()
		}
		return nil, startErr
	}

	// Stderr is drained concurrently with the data pipe: a stage blocked
	// on a full stderr buffer would stall the whole pipeline otherwise.
	diags := make([]string, n)
	var readers sync.WaitGroup
	for i := range cmds {
		readers.Add(1)
		go func(idx int) {
			defer readers.Done()
			diags[idx] = scanStderr(spec.Stages[idx], stderrs[idx], sink)
		}(i)
	}

	waited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.terminate(cmds, waited)
		case <-waited:
		}
	}()

	readers.Wait()
	for i, cmd := range cmds {
		code, waitErr := exitCode(cmd.Wait())
		stderr := diags[i]
		if waitErr != nil {
			code = -1
			if stderr != "" {
				stderr += "\n"
			}
			stderr += waitErr.Error()
		}
		res.Stages = append(res.Stages, StageResult{
			Name:     spec.Stages[i].Name,
			ExitCode: code,
			Stderr:   stderr,
		})
	}
	close(waited)
	res.Cancelled = ctx.Err() != nil
	return res, nil
}

// terminate signals the producing stage first so the pipe drains, then
// kills whatever is still alive after the grace period.
func (r *Runner) terminate(cmds []*exec.Cmd, waited <-chan struct{}) {
	if p := cmds[0].Process; p != nil {
		_ = p.Signal(syscall.SIGTERM)
	}
	select {
	case <-waited:
		return
	case <-time.After(r.grace):
	}
	for _, cmd := range cmds {
		if p := cmd.Process; p != nil {
			_ = p.Kill()
		}
	}
}

// scanStderr splits a stage's diagnostic stream from the metering
// stream: numeric lines on the meter stage feed the progress sink,
// everything else is kept as failure context.
func scanStderr(st Stage, rd io.Reader, sink ProgressSink) string {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	var diag strings.Builder
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if st.Meter && isNumeric(line) {
			if sink != nil {
				sink(line)
			}
			continue
		}
		logger.Log.Debug("stage stderr", "stage", st.Name, "line", line)
		if diag.Len() < maxDiagnostics {
			diag.WriteString(line)
			diag.WriteByte('\n')
		}
	}
	return strings.TrimSpace(diag.String())
}

func isNumeric(line string) bool {
	_, err := strconv.ParseFloat(line, 64)
	return err == nil
}

// exitCode maps a Wait error to the stage's exit status. Signal deaths
// come back as -1 from ExitCode, which counts as non-zero under the
// any-stage-fails policy.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
