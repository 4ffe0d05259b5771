package dispatcher

import (
	"testing"

	"go.uber.org/zap"

	"followermaze/internal/event"
	"followermaze/internal/followergraph"
)

type fakeConn struct {
	sent []string
}

func (f *fakeConn) Send(payload string) { f.sent = append(f.sent, payload) }

type nopMetrics struct {
	dispatched []string
	parseErrs  int
}

func (m *nopMetrics) IncEventDispatched(code string) { m.dispatched = append(m.dispatched, code) }
func (m *nopMetrics) IncParseError()                 { m.parseErrs++ }

func newTestDispatcher() (*Dispatcher, *followergraph.Graph, *event.Queue, *nopMetrics) {
	graph := followergraph.New()
	queue := event.NewQueue(0, 0)
	metrics := &nopMetrics{}
	d := New(graph, queue, zap.NewNop(), metrics)
	return d, graph, queue, metrics
}

func connectUser(g *followergraph.Graph, id string) *fakeConn {
	c := &fakeConn{}
	g.Register(id, c)
	return c
}

func TestFollowNotifiesTargetAndUpdatesGraph(t *testing.T) {
	d, graph, queue, _ := newTestDispatcher()
	target := connectUser(graph, "50")

	if !d.OnEventReceived("1|F|60|50") {
		t.Fatal("expected valid follow event to be accepted")
	}
	queue.Poll()

	if len(target.sent) != 1 || target.sent[0] != "1|F|60|50" {
		t.Fatalf("target.sent = %v, want [\"1|F|60|50\"]", target.sent)
	}
	followers := graph.FollowersOf("50")
	if len(followers) != 1 || followers[0].ID != "60" {
		t.Fatalf("FollowersOf(50) = %v, want [60]", followers)
	}
}

func TestUnfollowIsSilentButMutatesGraph(t *testing.T) {
	d, graph, queue, _ := newTestDispatcher()
	graph.AddFollower("50", "60")
	target := connectUser(graph, "50")

	d.OnEventReceived("1|U|60|50")
	queue.Poll()

	if len(target.sent) != 0 {
		t.Fatalf("unfollow must not notify the followee, got %v", target.sent)
	}
	if len(graph.FollowersOf("50")) != 0 {
		t.Fatal("expected follower relationship removed")
	}
}

func TestBroadcastNotifiesEveryUser(t *testing.T) {
	d, graph, queue, _ := newTestDispatcher()
	a := connectUser(graph, "a")
	b := connectUser(graph, "b")

	d.OnEventReceived("1|B")
	queue.Poll()

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both users notified, got a=%v b=%v", a.sent, b.sent)
	}
}

func TestPrivateNotifiesOnlyTarget(t *testing.T) {
	d, graph, queue, _ := newTestDispatcher()
	from := connectUser(graph, "60")
	to := connectUser(graph, "50")

	d.OnEventReceived("1|P|60|50")
	queue.Poll()

	if len(to.sent) != 1 {
		t.Fatalf("expected target notified once, got %v", to.sent)
	}
	if len(from.sent) != 0 {
		t.Fatalf("private message must not notify the sender, got %v", from.sent)
	}
}

func TestStatusUpdateNotifiesFollowersOnly(t *testing.T) {
	d, graph, queue, _ := newTestDispatcher()
	graph.AddFollower("60", "follower1")
	graph.AddFollower("60", "follower2")
	follower1 := connectUser(graph, "follower1")
	stranger := connectUser(graph, "stranger")

	d.OnEventReceived("1|S|60")
	queue.Poll()

	if len(follower1.sent) != 1 {
		t.Fatalf("expected follower notified, got %v", follower1.sent)
	}
	if len(stranger.sent) != 0 {
		t.Fatalf("status update must not reach non-followers, got %v", stranger.sent)
	}
}

func TestNotifyIsSilentWithoutConnection(t *testing.T) {
	d, _, queue, _ := newTestDispatcher()

	// "50" has no registered connection; this must not panic.
	d.OnEventReceived("1|P|60|50")
	queue.Poll()
}

func TestMalformedEventIncrementsParseErrorAndRejectsConnection(t *testing.T) {
	d, _, _, m := newTestDispatcher()

	if d.OnEventReceived("not-an-event") {
		t.Fatal("expected malformed line to be rejected")
	}
	if m.parseErrs != 1 {
		t.Fatalf("parseErrs = %d, want 1", m.parseErrs)
	}
}

func TestMetricsCountEveryDispatchedEvent(t *testing.T) {
	d, graph, queue, m := newTestDispatcher()
	connectUser(graph, "50")

	d.OnEventReceived("1|F|60|50")
	d.OnEventReceived("2|B")
	queue.Poll()

	if len(m.dispatched) != 2 {
		t.Fatalf("dispatched = %v, want 2 entries", m.dispatched)
	}
}
