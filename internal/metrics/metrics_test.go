package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettersMirrorIntoAtomicAccessors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetClientsConnected(3)
	if got := m.ClientsConnected(); got != 3 {
		t.Errorf("ClientsConnected() = %d, want 3", got)
	}

	m.SetQueueDepth(7)
	if got := m.QueueDepth(); got != 7 {
		t.Errorf("QueueDepth() = %d, want 7", got)
	}

	m.SetWaitingFor(42)
	if got := m.WaitingFor(); got != 42 {
		t.Errorf("WaitingFor() = %d, want 42", got)
	}

	m.SetEventSourceConnected(true)
	if got := m.EventSourceConnected(); got != true {
		t.Errorf("EventSourceConnected() = %v, want true", got)
	}
	m.SetEventSourceConnected(false)
	if got := m.EventSourceConnected(); got != false {
		t.Errorf("EventSourceConnected() = %v, want false", got)
	}
}

func TestNewRegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncEventDispatched("F")
	m.IncParseError()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected metrics registered against the given registry")
	}
}
