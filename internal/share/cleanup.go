package share

import "sync"

// Cleanups collects release handles acquired during one share call. Run
// executes them in reverse acquisition order; each handle runs exactly once
// no matter how many times Run is called.
type Cleanups struct {
	mu  sync.Mutex
	fns []func()
}

// Add registers a release handle. Nil handles are ignored.
func (c *Cleanups) Add(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

// Run releases every registered resource, newest first.
func (c *Cleanups) Run() {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Once wraps fn so it executes at most once.
func Once(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
