package session

import "sync"

// Subscriptions collects the unsubscribe functions of protocol client listeners.
// Release runs each of them exactly once, however often it is called.
type Subscriptions struct {
	mu       sync.Mutex
	fns      []func()
	released bool
}

// Add registers fn. After Release, fn runs immediately.
func (s *Subscriptions) Add(fn func()) {
	s.mu.Lock()
	if !s.released {
		s.fns = append(s.fns, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fn()
}

// Release unsubscribes in reverse order of Add.
func (s *Subscriptions) Release() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.released = true
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Len is the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.fns)
}
