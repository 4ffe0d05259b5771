package admin

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSamplerBroadcastsMarshaledSnapshot(t *testing.T) {
	// hub.Run is deliberately not started: Broadcast only enqueues onto the
	// buffered channel, and reading it directly here avoids racing Run's
	// own consumer goroutine for the same send.
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	defer close(stop)

	want := Snapshot{
		QueueDepth:           3,
		WaitingForSeq:        10,
		ClientsConnected:     2,
		EventSourceConnected: true,
	}
	s := NewSampler(hub, 5*time.Millisecond, func() Snapshot { return want })
	go s.Run(stop)

	select {
	case payload := <-hub.broadcast:
		var got Snapshot
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal broadcast payload: %v", err)
		}
		got.Time = want.Time
		if got != want {
			t.Fatalf("broadcast snapshot = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sampler to broadcast a snapshot")
	}
}
