package fsm

import (
	"sync"
	"time"

	"mediabot/internal/errs"
)

// State is a job lifecycle state.
type State string

const (
	StatePending     State = "PENDING"
	StateDownloading State = "DOWNLOADING"
	StateAnalyzing   State = "ANALYZING"
	StateSyncing     State = "SYNCING"
	StateProcessing  State = "PROCESSING"
	StateValidating  State = "VALIDATING"
	StatePackaged    State = "PACKAGED"
	StateUploaded    State = "UPLOADED"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
	StateCancelled   State = "CANCELLED"
)

// transitions is the legal arc table. FAILED and CANCELLED may only
// re-enter PENDING (user-initiated retry).
var transitions = map[State][]State{
	StatePending:     {StateDownloading, StateCancelled, StateFailed},
	StateDownloading: {StateAnalyzing, StateCancelled, StateFailed},
	StateAnalyzing:   {StateSyncing, StateProcessing, StateCancelled, StateFailed},
	StateSyncing:     {StateProcessing, StateCancelled, StateFailed},
	StateProcessing:  {StateValidating, StateCancelled, StateFailed},
	StateValidating:  {StatePackaged, StateProcessing, StateCancelled, StateFailed},
	StatePackaged:    {StateUploaded, StateCancelled, StateFailed},
	StateUploaded:    {StateDone, StateCancelled, StateFailed},
	StateDone:        {},
	StateFailed:      {StatePending},
	StateCancelled:   {StatePending},
}

// Transition is one appended history entry. Immutable once recorded.
type Transition struct {
	From      State             `json:"from"`
	To        State             `json:"to"`
	Timestamp time.Time         `json:"timestamp"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Machine enforces legal transitions for one job and records history.
// Transitions for a job are serialized by its driver; the mutex guards
// read access from other goroutines (status endpoints).
type Machine struct {
	mu      sync.RWMutex
	jobID   string
	state   State
	history []Transition
}

// New creates a machine for a fresh job in PENDING.
func New(jobID string) *Machine {
	return &Machine{jobID: jobID, state: StatePending}
}

// Deserialize reconstructs a machine from persisted state and history.
func Deserialize(jobID string, state State, history []Transition) *Machine {
	h := make([]Transition, len(history))
	copy(h, history)
	return &Machine{jobID: jobID, state: state, history: h}
}

// JobID returns the job this machine belongs to.
func (m *Machine) JobID() string { return m.jobID }

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// History returns a copy of the transition history in append order.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := make([]Transition, len(m.history))
	copy(h, m.history)
	return h
}

// CanTransitionTo reports whether the arc current→target is legal.
func (m *Machine) CanTransitionTo(target State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return legal(m.state, target)
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the machine to target, appending a history entry.
// Fails with an InvalidStateTransition error if the arc is not legal.
func (m *Machine) TransitionTo(target State, reason string, metadata map[string]string) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !legal(m.state, target) {
		return nil, errs.New(errs.KindInvalidState,
			"illegal transition %s -> %s", m.state, target).WithDetails(map[string]any{
			"job_id": m.jobID,
			"from":   string(m.state),
			"to":     string(target),
		})
	}

	t := Transition{
		From:      m.state,
		To:        target,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Metadata:  metadata,
	}
	m.history = append(m.history, t)
	m.state = target
	return &t, nil
}

// IsTerminal reports whether the machine is in a terminal state. CANCELLED
// is not terminal because it may re-enter PENDING on retry.
func (m *Machine) IsTerminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateDone || m.state == StateFailed
}

// Valid reports whether s is a known state.
func Valid(s State) bool {
	_, ok := transitions[s]
	return ok
}
