package event

import (
	"sync"

	"Tally/internal/logger"
)

// Sink receives events after the state change they describe has committed.
// Publish must not block the caller for long; sinks report their own failures.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev Event) {
	f(ev)
}

// Fanout publishes every event to each sink in order.
type Fanout []Sink

// Publish forwards ev to all sinks.
func (f Fanout) Publish(ev Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes each event as a structured log line.
type LogSink struct{}

// Publish logs ev at INFO level.
func (LogSink) Publish(ev Event) {
	switch e := ev.(type) {
	case PollCreated:
		logger.Info("poll created",
			"poll", e.Poll.String(),
			"creator", e.Creator.String(),
			"poll_id", e.PollID,
			"options", e.OptionCount,
		)
	case Voted:
		logger.Info("vote cast",
			"poll", e.Poll.String(),
			"voter", e.Voter.String(),
			"option", e.OptionIndex,
		)
	case PollClosed:
		logger.Info("poll closed",
			"poll", e.Poll.String(),
			"creator", e.Creator.String(),
		)
	default:
		logger.Info("event", "name", ev.Name())
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends ev.
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)

	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}
