package probe

import (
	"context"
	"os"
	"path/filepath"

	"github.com/droidpipe/agent/internal/adb"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/pkg/logger"
)

// Prober measures the source tree before a transfer starts. It never
// moves data. A failed probe degrades the session to unknown-total mode
// instead of aborting, so failures are logged, not returned.
type Prober struct {
	device *adb.Client
}

func NewProber(device *adb.Client) *Prober {
	return &Prober{device: device}
}

// Probe returns the total byte size of the source directory. ok is false
// when the size could not be determined; a single attempt, no retries.
func (p *Prober) Probe(ctx context.Context, direction models.Direction, path string) (uint64, bool) {
	switch direction {
	case models.DirectionPull:
		size, err := p.device.DirSize(ctx, path)
		if err != nil {
			logger.Log.Warn("remote size probe failed, proceeding without total", "path", path, "err", err)
			return 0, false
		}
		logger.Log.Info("remote size probed", "path", path, "bytes", size)
		return size, true
	case models.DirectionPush:
		size, err := localTreeSize(path)
		if err != nil {
			logger.Log.Warn("local size probe failed, proceeding without total", "path", path, "err", err)
			return 0, false
		}
		logger.Log.Info("local size probed", "path", path, "bytes", size)
		return size, true
	default:
		return 0, false
	}
}

// localTreeSize sums regular-file sizes under root, skipping symlinks so
// a link cycle cannot inflate the total.
func localTreeSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Walk lstats entries, so symlinks are not regular files here
		// and never followed into.
		if info.Mode().IsRegular() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
