// Package dispatcher wires parsed events onto graph mutations and
// per-connection notifications, and drives the reorder queue on every
// I/O-loop tick.
package dispatcher

import (
	"go.uber.org/zap"

	"followermaze/internal/event"
	"followermaze/internal/followergraph"
)

// Metrics is the narrow slice of observability the dispatcher needs;
// satisfied by the metrics package without an import cycle.
type Metrics interface {
	IncEventDispatched(code string)
	IncParseError()
}

// Dispatcher is the EventQueue Handler: it receives events in sequence
// order from the queue and applies the per-code routing rules.
type Dispatcher struct {
	graph   *followergraph.Graph
	queue   *event.Queue
	logger  *zap.Logger
	metrics Metrics
}

// New constructs a Dispatcher over the given graph and queue. The
// dispatcher registers itself as the queue's handler.
func New(graph *followergraph.Graph, queue *event.Queue, logger *zap.Logger, metrics Metrics) *Dispatcher {
	d := &Dispatcher{graph: graph, queue: queue, logger: logger, metrics: metrics}
	queue.SetHandler(d)
	return d
}

// OnEventReceived parses a raw line from the event source and buffers it
// for reordering. It returns false when the line is malformed, signaling
// the caller to drop the event-source connection.
func (d *Dispatcher) OnEventReceived(line string) bool {
	ev, err := event.FromString(line)
	if err != nil {
		d.logger.Warn("rejecting malformed event", zap.String("line", line), zap.Error(err))
		if d.metrics != nil {
			d.metrics.IncParseError()
		}
		return false
	}
	d.queue.Add(ev)
	return true
}

// OnPoll drains the reorder queue; call once per I/O-loop iteration.
func (d *Dispatcher) OnPoll() {
	d.queue.Poll()
}

// OnEvent is called by the reorder queue, in strict sequence order, as
// each buffered event becomes deliverable.
func (d *Dispatcher) OnEvent(ev *event.Event) {
	d.logger.Debug("processing event", zap.Int("seq", ev.Seq), zap.String("code", string(ev.Code)))

	switch ev.Code {
	case event.Follow:
		d.follow(ev)
	case event.Unfollow:
		d.unfollow(ev)
	case event.Broadcast:
		d.broadcast(ev)
	case event.Private:
		d.private(ev)
	case event.StatusUpdate:
		d.statusUpdate(ev)
	}

	if d.metrics != nil {
		d.metrics.IncEventDispatched(string(ev.Code))
	}
}

func (d *Dispatcher) follow(ev *event.Event) {
	target := d.graph.User(ev.ToUser)
	target.AddFollower(ev.FromUser)
	d.notify(target, ev.Raw)
}

func (d *Dispatcher) unfollow(ev *event.Event) {
	// Notifications are intentionally suppressed for unfollow, even to the
	// followee.
	d.graph.User(ev.ToUser).RemoveFollower(ev.FromUser)
}

func (d *Dispatcher) broadcast(ev *event.Event) {
	for _, u := range d.graph.AllUsers() {
		d.notify(u, ev.Raw)
	}
}

func (d *Dispatcher) private(ev *event.Event) {
	d.notify(d.graph.User(ev.ToUser), ev.Raw)
}

func (d *Dispatcher) statusUpdate(ev *event.Event) {
	for _, u := range d.graph.FollowersOf(ev.FromUser) {
		d.notify(u, ev.Raw)
	}
}

// notify enqueues msg to user's connection if one is attached; a user with
// no connection is a silent drop.
func (d *Dispatcher) notify(user *followergraph.User, msg string) {
	if user.Connection == nil {
		return
	}
	user.Connection.Send(msg)
}
