package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleamkt/watchdog/internal/store"
)

// State is the user session lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// UserSession is the in-memory state of one user's polling loop. The loop
// goroutine and the control surface share it; state moves through atomic
// compare-and-swap so transitions are race-free.
type UserSession struct {
	UserID   int64
	Queries  []string
	Settings store.UserSettings

	state atomic.Int32

	requests   atomic.Int64
	itemsFound atomic.Int64
	errors     atomic.Int64

	mu            sync.Mutex
	lastError     string
	lastIteration time.Time
	startedAt     time.Time
}

func NewUserSession(userID int64, queries []string, settings store.UserSettings) *UserSession {
	s := &UserSession{
		UserID:    userID,
		Queries:   queries,
		Settings:  settings,
		startedAt: time.Now(),
	}
	s.state.Store(int32(StateRunning))
	return s
}

func (s *UserSession) State() State { return State(s.state.Load()) }

func (s *UserSession) cas(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Pause moves RUNNING → PAUSED.
func (s *UserSession) Pause() bool { return s.cas(StateRunning, StatePaused) }

// Resume moves PAUSED → RUNNING.
func (s *UserSession) Resume() bool { return s.cas(StatePaused, StateRunning) }

// RequestStop moves RUNNING or PAUSED → STOPPING. The loop observes the
// state at its next check-point and exits.
func (s *UserSession) RequestStop() bool {
	return s.cas(StateRunning, StateStopping) || s.cas(StatePaused, StateStopping)
}

// markStopped is called by the loop on exit.
func (s *UserSession) markStopped() { s.state.Store(int32(StateStopped)) }

func (s *UserSession) addRequests(n int64)   { s.requests.Add(n) }
func (s *UserSession) addItemsFound(n int64) { s.itemsFound.Add(n) }

func (s *UserSession) recordError(err error) {
	s.errors.Add(1)
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *UserSession) markIteration() {
	s.mu.Lock()
	s.lastIteration = time.Now()
	s.mu.Unlock()
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	UserID        int64
	State         State
	Queries       []string
	Requests      int64
	ItemsFound    int64
	Errors        int64
	LastError     string
	LastIteration time.Time
	StartedAt     time.Time
}

// Snapshot captures the session state for the control surface.
func (s *UserSession) Snapshot() Status {
	s.mu.Lock()
	lastErr := s.lastError
	lastIter := s.lastIteration
	started := s.startedAt
	s.mu.Unlock()

	return Status{
		UserID:        s.UserID,
		State:         s.State(),
		Queries:       append([]string(nil), s.Queries...),
		Requests:      s.requests.Load(),
		ItemsFound:    s.itemsFound.Load(),
		Errors:        s.errors.Load(),
		LastError:     lastErr,
		LastIteration: lastIter,
		StartedAt:     started,
	}
}
