package progress

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/pkg/logger"
)

// minElapsed guards speed math against degenerate samples: counts that
// arrive closer together than this are folded into the next sample
// instead of being divided by near-zero wall time.
const minElapsed = 20 * time.Millisecond

type sample struct {
	at    time.Time
	bytes uint64
}

// Parser turns the metering stage's cumulative byte counts into progress
// events. One parser serves one session; it is not restarted across
// sessions. Feed is safe to call from the runner's stderr goroutine while
// Events is drained elsewhere.
type Parser struct {
	total  uint64
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	started   time.Time
	samples   []sample
	lastBytes uint64
	lastSpeed float64
	events    chan models.ProgressEvent
	closed    bool
}

func NewParser(total uint64, window time.Duration) *Parser {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Parser{
		total:  total,
		window: window,
		now:    time.Now,
		events: make(chan models.ProgressEvent, 64),
	}
}

// Events delivers progress in non-decreasing bytes order. The channel is
// closed by Close once the metering stream ends.
func (p *Parser) Events() <-chan models.ProgressEvent {
	return p.events
}

// Feed consumes one metering line. Malformed lines are logged and
// ignored; the pipeline must never die on unexpected meter output.
func (p *Parser) Feed(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	count, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		logger.Log.Debug("ignoring non-numeric meter line", "line", trimmed)
		return
	}
	p.observe(count)
}

func (p *Parser) observe(count uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	now := p.now()
	if p.started.IsZero() {
		p.started = now
	}
	// The meter's counter is cumulative; clamp so emitted bytes stay
	// monotonic even if the tool misbehaves.
	if count < p.lastBytes {
		count = p.lastBytes
	}
	p.lastBytes = count
	p.samples = append(p.samples, sample{at: now, bytes: count})
	p.prune(now)

	ev := models.ProgressEvent{
		BytesTransferred: count,
		Speed:            p.windowSpeed(now),
		AverageSpeed:     p.averageSpeed(count, now),
		Timestamp:        now,
	}
	if p.total > 0 {
		pct := float64(count) / float64(p.total) * 100
		if pct > 100 {
			pct = 100
		}
		ev.Percent = &pct
	}
	select {
	case p.events <- ev:
	default:
		logger.Log.Warn("progress channel full, dropping sample", "bytes", count)
	}
}

// Close ends the event stream. Idempotent.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

func (p *Parser) prune(now time.Time) {
	cutoff := now.Add(-p.window)
	keep := 0
	for keep < len(p.samples)-1 && p.samples[keep].at.Before(cutoff) {
		keep++
	}
	p.samples = p.samples[keep:]
}

// windowSpeed is the smoothed instantaneous throughput over the bounded
// sample window.
func (p *Parser) windowSpeed(now time.Time) float64 {
	if len(p.samples) < 2 {
		return p.lastSpeed
	}
	oldest := p.samples[0]
	elapsed := now.Sub(oldest.at)
	if elapsed < minElapsed {
		return p.lastSpeed
	}
	p.lastSpeed = float64(p.lastBytes-oldest.bytes) / elapsed.Seconds()
	return p.lastSpeed
}

func (p *Parser) averageSpeed(count uint64, now time.Time) float64 {
	elapsed := now.Sub(p.started)
	if elapsed < minElapsed {
		return 0
	}
	return float64(count) / elapsed.Seconds()
}
