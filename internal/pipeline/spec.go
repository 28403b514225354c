package pipeline

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/faults"
	"github.com/droidpipe/agent/internal/models"
)

// StreamMode says how a stage's standard stream is wired.
type StreamMode int

const (
	// StreamNull leaves the stream unconnected (reads EOF / discards).
	StreamNull StreamMode = iota
	// StreamPipe connects the stream to the neighbouring stage.
	StreamPipe
)

// Stage describes one external process in the pipeline.
type Stage struct {
	Name   string
	Path   string
	Args   []string
	Stdin  StreamMode
	Stdout StreamMode
	// Meter marks the metering stage: its stderr carries numeric-only
	// cumulative byte counts, kept apart from the data stream.
	Meter bool
}

// Spec is the ordered process graph for one transfer. Setup stages run
// to completion before the pipeline; pipeline stages run connected
// stdout-to-stdin in order.
type Spec struct {
	Setup  []Stage
	Stages []Stage
	// LocalDestDir is created (idempotently) before execution when set.
	LocalDestDir string
}

// Validate checks the structural invariants of the process graph.
func (s *Spec) Validate() error {
	if len(s.Stages) < 2 {
		return fmt.Errorf("pipeline needs at least two stages, got %d", len(s.Stages))
	}
	meters := 0
	for i, st := range s.Stages {
		if st.Meter {
			meters++
			if i == 0 || i == len(s.Stages)-1 {
				return fmt.Errorf("metering stage %s must sit between producer and consumer", st.Name)
			}
		}
		if st.Path == "" {
			return fmt.Errorf("stage %s has no command", st.Name)
		}
	}
	if meters != 1 {
		return fmt.Errorf("pipeline must contain exactly one metering stage, got %d", meters)
	}
	for _, st := range s.Setup {
		if st.Meter {
			return fmt.Errorf("setup stage %s cannot meter", st.Name)
		}
	}
	return nil
}

// Builder turns a transfer request into a Spec. Tool binaries and the
// fixed device transfer root come from the config, so tests can point
// the whole graph at fake executables.
type Builder struct {
	cfg *config.Config
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// ResolveRemote anchors a remote path at the fixed device transfer root.
// Empty means the root itself; relative names are joined under it;
// absolute paths must already live under it.
func (b *Builder) ResolveRemote(remote string) (string, error) {
	root := b.cfg.DeviceRoot()
	switch {
	case remote == "":
		return root, nil
	case !path.IsAbs(remote):
		return path.Join(root, remote), nil
	case remote == root || strings.HasPrefix(remote, root+"/"):
		return path.Clean(remote), nil
	default:
		return "", faults.New(faults.PathInvalid, "pipeline.resolve",
			fmt.Sprintf("remote path %s escapes transfer root %s", remote, root), nil)
	}
}

// Build produces the three-stage process graph for a transfer.
// totalBytes of zero means the probe failed; the meter then runs without
// an advisory expected size.
func (b *Builder) Build(direction models.Direction, localPath, remotePath string, totalBytes uint64) (*Spec, error) {
	if localPath == "" {
		return nil, faults.New(faults.PathInvalid, "pipeline.build", "local path is empty", nil)
	}
	remote, err := b.ResolveRemote(remotePath)
	if err != nil {
		return nil, err
	}

	var spec *Spec
	switch direction {
	case models.DirectionPull:
		spec = b.buildPull(localPath, remote, totalBytes)
	case models.DirectionPush:
		spec = b.buildPush(localPath, remote, totalBytes)
	default:
		return nil, fmt.Errorf("unknown transfer direction %q", direction)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// buildPull: device tar stream -> meter -> local unpack.
// `cd` into the parent before archiving keeps entry names relative, which
// sidesteps toybox tar's refusal of absolute members.
func (b *Builder) buildPull(localPath, remote string, totalBytes uint64) *Spec {
	parent, base := path.Dir(remote), path.Base(remote)
	return &Spec{
		LocalDestDir: localPath,
		Stages: []Stage{
			{
				Name:   "archive-remote",
				Path:   b.cfg.AdbPath(),
				Args:   []string{"exec-out", fmt.Sprintf("cd %q && tar -c -f - %q", parent, base)},
				Stdin:  StreamNull,
				Stdout: StreamPipe,
			},
			b.meterStage(totalBytes),
			{
				Name:   "unpack-local",
				Path:   b.cfg.TarPath(),
				Args:   []string{"-xf", "-", "-C", localPath},
				Stdin:  StreamPipe,
				Stdout: StreamNull,
			},
		},
	}
}

// buildPush: local tar stream -> meter -> device unpack. The remote
// destination is created first so extraction never races a missing dir.
func (b *Builder) buildPush(localPath, remote string, totalBytes uint64) *Spec {
	return &Spec{
		Setup: []Stage{
			{
				Name: "mkdir-remote",
				Path: b.cfg.AdbPath(),
				Args: []string{"shell", "mkdir", "-p", remote},
			},
		},
		Stages: []Stage{
			{
				Name:   "archive-local",
				Path:   b.cfg.TarPath(),
				Args:   []string{"-cf", "-", "-C", localPath, "."},
				Stdin:  StreamNull,
				Stdout: StreamPipe,
			},
			b.meterStage(totalBytes),
			{
				Name:   "unpack-remote",
				Path:   b.cfg.AdbPath(),
				Args:   []string{"shell", fmt.Sprintf("tar -xf - -C %q", remote)},
				Stdin:  StreamPipe,
				Stdout: StreamNull,
			},
		},
	}
}

// meterStage passes the archive bytes through pv unmodified while it
// reports cumulative byte counts (-n -b) on stderr. The expected size is
// advisory; percentage math happens in the progress parser.
func (b *Builder) meterStage(totalBytes uint64) Stage {
	args := []string{"-n", "-b"}
	if totalBytes > 0 {
		args = append(args, "-s", strconv.FormatUint(totalBytes, 10))
	}
	return Stage{
		Name:   "meter",
		Path:   b.cfg.PvPath(),
		Args:   args,
		Stdin:  StreamPipe,
		Stdout: StreamPipe,
		Meter:  true,
	}
}
