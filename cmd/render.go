package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/progress"
	"github.com/droidpipe/agent/internal/session"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// renderer turns orchestrator notifications into terminal output. It is
// the CLI's EventSink; the serve command uses the websocket hub instead.
type renderer struct {
	mu  sync.Mutex
	s   *session.Session
	bar *progressbar.ProgressBar
}

func newRenderer() *renderer {
	return &renderer{}
}

func (r *renderer) setSession(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = s
}

func (r *renderer) Sink(msg models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case models.MsgTransferState:
		if ev, ok := msg.Payload.(models.StateEvent); ok {
			r.renderState(ev)
		}
	case models.MsgTransferProgress:
		if ev, ok := msg.Payload.(models.ProgressEvent); ok {
			r.renderProgress(ev)
		}
	case models.MsgTransferTerminal:
		if ev, ok := msg.Payload.(models.TerminalEvent); ok {
			r.renderTerminal(ev)
		}
	}
}

func (r *renderer) renderState(ev models.StateEvent) {
	switch ev.State {
	case session.StateProbing.String():
		fmt.Println("probing source size...")
	case session.StateRunning.String():
		if r.s != nil && r.s.TotalBytes() == 0 {
			color.Yellow("size unknown, progress shown in bytes only")
		}
	}
}

func (r *renderer) renderProgress(ev models.ProgressEvent) {
	if r.bar == nil {
		total := int64(-1)
		if r.s != nil && r.s.TotalBytes() > 0 {
			total = int64(r.s.TotalBytes())
		}
		r.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("transferring"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSpinnerType(14),
		)
	}
	_ = r.bar.Set64(int64(ev.BytesTransferred))
}

func (r *renderer) renderTerminal(ev models.TerminalEvent) {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
	avg := ""
	if secs := ev.Duration.Seconds(); secs > 0 && ev.BytesTransferred > 0 {
		avg = ", " + progress.FormatSpeed(float64(ev.BytesTransferred)/secs)
	}
	switch ev.State {
	case session.StateCompleted.String():
		color.Green("done: %d bytes in %s%s", ev.BytesTransferred, ev.Duration.Round(time.Millisecond), avg)
	case session.StateCancelled.String():
		color.Yellow("cancelled after %d bytes", ev.BytesTransferred)
	default:
		color.Red("failed (%s)", ev.FaultKind)
		if ev.Diagnostics != "" {
			fmt.Println(ev.Diagnostics)
		}
	}
}
