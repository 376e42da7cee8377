// Package progress carries render progress from the pipeline to its caller.
package progress

import "sync"

// Event reports Completed of Total units (assets, or mux stages).
type Event struct {
	Completed int
	Total     int
}

// Fraction returns completion in [0, 1].
func (e Event) Fraction() float64 {
	if e.Total <= 0 {
		return 0
	}
	f := float64(e.Completed) / float64(e.Total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// Func receives progress events.
type Func func(Event)

// Reporter forwards events to a Func, dropping any that would move progress
// backwards so consumers always see a non-decreasing sequence.
type Reporter struct {
	mu   sync.Mutex
	fn   Func
	last float64
	seen bool
}

// NewReporter wraps fn. A nil fn discards events.
func NewReporter(fn Func) *Reporter {
	return &Reporter{fn: fn}
}

// Report emits completed/total unless it regresses.
func (r *Reporter) Report(completed, total int) {
	if r == nil {
		return
	}
	ev := Event{Completed: completed, Total: total}
	frac := ev.Fraction()

	r.mu.Lock()
	if r.seen && frac < r.last {
		r.mu.Unlock()
		return
	}
	r.last = frac
	r.seen = true
	fn := r.fn
	r.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

// Channel returns a Func that publishes into a bounded channel, and the
// channel itself. When the buffer is full the oldest pending event is
// replaced, so a slow consumer never stalls the render but still sees the
// latest state. Call the returned close func once the producer is done.
func Channel(size int) (Func, <-chan Event, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan Event, size)
	var mu sync.Mutex
	closed := false

	publish := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- ev:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return publish, ch, done
}
