package session

import (
	"context"
	"sync"
	"time"

	"github.com/droidpipe/agent/internal/faults"
	"github.com/droidpipe/agent/internal/models"
	"github.com/google/uuid"
)

// Session is one active transfer. It is created Idle by the orchestrator
// and destroyed only after reaching a terminal state; callers observe it
// through the getters and Done.
type Session struct {
	ID         string
	Direction  models.Direction
	LocalPath  string
	RemotePath string

	mu          sync.Mutex
	state       State
	totalBytes  uint64
	transferred uint64
	startedAt   time.Time
	lastFault   *faults.Fault

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(direction models.Direction, localPath, remotePath string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Direction:  direction,
		LocalPath:  localPath,
		RemotePath: remotePath,
		state:      StateIdle,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TotalBytes is zero until probed, and stays zero in degraded
// unknown-total mode.
func (s *Session) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Transferred never decreases over the life of the session.
func (s *Session) Transferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// Fault is non-nil only after the session failed or was cancelled.
func (s *Session) Fault() *faults.Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFault
}

// Done closes once the session reached a terminal state and every
// spawned stage has been waited on.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is terminal and returns the final state.
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	if st == StateRunning && s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
}

func (s *Session) setTerminal(st State, f *faults.Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = st
	s.lastFault = f
}

func (s *Session) setTotal(total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytes = total
}

func (s *Session) recordProgress(bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes > s.transferred {
		s.transferred = bytes
	}
}

func (s *Session) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
