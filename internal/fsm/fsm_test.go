package fsm

import (
	"testing"

	"mediabot/internal/errs"
)

func TestNewStartsPending(t *testing.T) {
	m := New("job-1")
	if m.Current() != StatePending {
		t.Errorf("Current() = %s, want PENDING", m.Current())
	}
	if len(m.History()) != 0 {
		t.Errorf("fresh machine has history %v", m.History())
	}
}

func TestHappyPath(t *testing.T) {
	m := New("job-1")
	path := []State{
		StateDownloading, StateAnalyzing, StateSyncing, StateProcessing,
		StateValidating, StatePackaged, StateUploaded, StateDone,
	}
	for _, s := range path {
		if _, err := m.TransitionTo(s, "", nil); err != nil {
			t.Fatalf("TransitionTo(%s): %v", s, err)
		}
	}
	if !m.IsTerminal() {
		t.Error("DONE should be terminal")
	}
	history := m.History()
	if len(history) != len(path) {
		t.Fatalf("history length = %d, want %d", len(history), len(path))
	}
	if history[0].From != StatePending || history[len(history)-1].To != StateDone {
		t.Errorf("history endpoints wrong: %+v", history)
	}
}

func TestSkipSyncPath(t *testing.T) {
	m := New("job-1")
	mustTransition(t, m, StateDownloading, StateAnalyzing, StateProcessing)
}

func TestValidatingMayReturnToProcessing(t *testing.T) {
	m := New("job-1")
	mustTransition(t, m, StateDownloading, StateAnalyzing, StateProcessing, StateValidating)
	if _, err := m.TransitionTo(StateProcessing, "revalidate", nil); err != nil {
		t.Fatalf("VALIDATING -> PROCESSING: %v", err)
	}
}

func TestIllegalTransition(t *testing.T) {
	m := New("job-1")
	_, err := m.TransitionTo(StateUploaded, "", nil)
	if err == nil {
		t.Fatal("PENDING -> UPLOADED should fail")
	}
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Errorf("error kind = %s", errs.KindOf(err))
	}
	if m.Current() != StatePending {
		t.Errorf("failed transition moved state to %s", m.Current())
	}
}

func TestCancelledIsNotTerminal(t *testing.T) {
	m := New("job-1")
	mustTransition(t, m, StateCancelled)
	if m.IsTerminal() {
		t.Error("CANCELLED must not be terminal")
	}
	if _, err := m.TransitionTo(StatePending, "retry", nil); err != nil {
		t.Errorf("CANCELLED -> PENDING: %v", err)
	}
}

func TestFailedOnlyReentersPending(t *testing.T) {
	m := New("job-1")
	mustTransition(t, m, StateFailed)
	if !m.IsTerminal() {
		t.Error("FAILED should be terminal")
	}
	if m.CanTransitionTo(StateDownloading) {
		t.Error("FAILED -> DOWNLOADING must be illegal")
	}
	if !m.CanTransitionTo(StatePending) {
		t.Error("FAILED -> PENDING must be legal")
	}
}

func TestDoneIsFinal(t *testing.T) {
	m := Deserialize("job-1", StateDone, nil)
	for _, s := range []State{StatePending, StateFailed, StateCancelled, StateDownloading} {
		if m.CanTransitionTo(s) {
			t.Errorf("DONE -> %s must be illegal", s)
		}
	}
}

func TestDeserializeRestoresHistory(t *testing.T) {
	m := New("job-1")
	mustTransition(t, m, StateDownloading, StateFailed, StatePending)

	restored := Deserialize("job-1", m.Current(), m.History())
	if restored.Current() != StatePending {
		t.Errorf("restored state = %s", restored.Current())
	}
	if len(restored.History()) != 3 {
		t.Errorf("restored history length = %d", len(restored.History()))
	}
	if !restored.CanTransitionTo(StateDownloading) {
		t.Error("restored PENDING should allow DOWNLOADING")
	}
}

func TestValid(t *testing.T) {
	if !Valid(StateSyncing) {
		t.Error("SYNCING should be a known state")
	}
	if Valid(State("BOGUS")) {
		t.Error("BOGUS should not be a known state")
	}
}

func mustTransition(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, s := range states {
		if _, err := m.TransitionTo(s, "", nil); err != nil {
			t.Fatalf("TransitionTo(%s): %v", s, err)
		}
	}
}
