// Package agent provides the single-goroutine mailbox every component in
// the core uses: each agent owns exactly one goroutine draining a channel
// of closures, so no two handlers ever run concurrently against the same
// state (spec.md §5, "no two handlers run concurrently on the same
// agent"). Call and Cast generalize the teacher's per-RPC reply-channel
// future into one reusable helper instead of repeating it per component.
package agent

// Mailbox is a bounded queue of pending work for one agent goroutine.
type Mailbox struct {
	ch chan func()
}

// New creates a Mailbox with the given buffer size.
func New(buffer int) *Mailbox {
	return &Mailbox{ch: make(chan func(), buffer)}
}

// Run drains the mailbox on the calling goroutine until stop is closed.
// Callers should invoke this as `go mailbox.Run(stopCh)`.
func (m *Mailbox) Run(stop <-chan struct{}) {
	for {
		select {
		case fn := <-m.ch:
			fn()
		case <-stop:
			return
		}
	}
}

// Cast enqueues fn and returns immediately without waiting for it to run.
func Cast(m *Mailbox, fn func()) {
	m.ch <- fn
}

// Call enqueues fn and blocks until it has run on the agent goroutine,
// returning its result.
func Call[T any](m *Mailbox, fn func() T) T {
	result := make(chan T, 1)
	m.ch <- func() { result <- fn() }
	return <-result
}

// Sync enqueues fn and blocks until it has run, without returning a value.
func Sync(m *Mailbox, fn func()) {
	done := make(chan struct{})
	m.ch <- func() { fn(); close(done) }
	<-done
}

// Call2 is Call for functions returning two values.
func Call2[T, U any](m *Mailbox, fn func() (T, U)) (T, U) {
	type pair struct {
		a T
		b U
	}
	result := make(chan pair, 1)
	m.ch <- func() {
		a, b := fn()
		result <- pair{a, b}
	}
	p := <-result
	return p.a, p.b
}
