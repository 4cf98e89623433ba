package resilience

import "sync"

// Set holds one breaker per target, created on first use with shared settings.
type Set struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(settings Settings) *Set {
	return &Set{settings: settings, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if needed.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		b = New(name, s.settings)
		s.breakers[name] = b
	}
	return b
}

// Execute runs req through the breaker for name.
func (s *Set) Execute(name string, req func() error) error {
	return s.Get(name).Execute(req)
}

// Remove forgets the breaker for name. A later Get starts closed.
func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}

// States reports the state of every known breaker.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.State()
	}
	return out
}
