// Package progress carries generation run events from the orchestrator to
// whoever started the run, in order, with a stop signal going the other way.
package progress

import (
	"context"
	"sync"
)

// Type identifies the kind of event.
type Type string

const (
	TypeProgress  Type = "progress"
	TypeItemError Type = "itemError"
	TypeWarning   Type = "warning"
	TypeComplete  Type = "complete"
	// TypeFatal ends a run that failed as a whole. It carries no summary.
	TypeFatal Type = "fatal"
)

// Terminal reports whether no event may follow this one.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeFatal
}

// Summary is the final tally of a run.
type Summary struct {
	RunID       string   `json:"run_id"`
	StrategyID  int64    `json:"strategy_id"`
	Queued      int      `json:"queued"`
	Generated   int      `json:"generated"`
	Regenerated int      `json:"regenerated"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	Cancelled   bool     `json:"cancelled"`
	Errors      []string `json:"errors"`
}

// Processed is the number of queue items the run got through.
func (s *Summary) Processed() int {
	return s.Generated + s.Regenerated + s.Skipped + s.Failed
}

// Event is one message on the stream.
type Event struct {
	Seq       int      `json:"seq"`
	Type      Type     `json:"type"`
	Percent   float64  `json:"percent"`
	Step      string   `json:"step,omitempty"`
	Title     string   `json:"title,omitempty"`
	ArticleID int64    `json:"article_id,omitempty"`
	Message   string   `json:"message,omitempty"`
	Summary   *Summary `json:"summary,omitempty"`
}

// Emitter receives events as a run produces them.
type Emitter interface {
	Emit(Event)
}

// Func adapts a callback to an Emitter.
type Func func(Event)

// Emit calls f(e).
func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = Func(func(Event) {})

// Stream is an Emitter whose events are read from a channel. Emit never
// blocks: events queue internally and a pump delivers them in order, so a
// slow reader holds up nothing but itself.
//
// Progress percentages are clamped so they never decrease, sequence numbers
// are assigned on Emit, and anything emitted after a terminal event is
// dropped.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	out      chan Event
	detached chan struct{}
	once     sync.Once

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	seq     int
	percent float64
	closed  bool
	gone    bool
}

// NewStream returns a stream whose Context is cancelled when parent is, or
// when Stop or Detach is called.
func NewStream(parent context.Context) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan Event),
		detached: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// Context is the run context. Pass it to the producer.
func (s *Stream) Context() context.Context { return s.ctx }

// Events returns the delivery channel. It is closed after the terminal
// event has been received, or once the stream is detached.
func (s *Stream) Events() <-chan Event { return s.out }

// Stop asks the producer to halt. Events, including the terminal one, keep
// flowing.
func (s *Stream) Stop() { s.cancel() }

// Detach is for readers that went away: it stops the producer and discards
// whatever has not been delivered yet.
func (s *Stream) Detach() {
	s.cancel()
	s.once.Do(func() { close(s.detached) })
	s.mu.Lock()
	s.gone = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Emit queues an event for delivery.
func (s *Stream) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gone {
		return
	}
	s.seq++
	e.Seq = s.seq
	if e.Percent < s.percent {
		e.Percent = s.percent
	}
	s.percent = e.Percent
	if e.Type.Terminal() {
		s.closed = true
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

// Drain reads every remaining event until the channel closes.
func (s *Stream) Drain() []Event {
	var events []Event
	for e := range s.out {
		events = append(events, e)
	}
	return events
}

func (s *Stream) pump() {
	defer close(s.out)
	defer s.cancel()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed && !s.gone {
			s.cond.Wait()
		}
		if s.gone || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.detached:
			return
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = len(r.events) + 1
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
