package loading

// Slots holds independent per-key loading states. A key that was never
// touched reads as idle. Slots is not safe for concurrent use; it is owned
// by a single event loop.
type Slots[K comparable] struct {
	states map[K]State
}

// NewSlots creates an empty slot set.
func NewSlots[K comparable]() *Slots[K] {
	return &Slots[K]{states: make(map[K]State)}
}

// Get returns the state of key.
func (s *Slots[K]) Get(key K) State {
	return s.states[key]
}

// Set stores state for key. Idle states are dropped to keep the map small.
func (s *Slots[K]) Set(key K, state State) {
	if state.IsIdle() {
		delete(s.states, key)
		return
	}
	s.states[key] = state
}

// Update applies fn to the state of key and stores the result.
func (s *Slots[K]) Update(key K, fn func(*State)) {
	st := s.states[key]
	fn(&st)
	s.Set(key, st)
}

// Len returns the number of non-idle slots.
func (s *Slots[K]) Len() int {
	return len(s.states)
}

// Reset clears every slot back to idle.
func (s *Slots[K]) Reset() {
	clear(s.states)
}

// Copy returns a snapshot of all non-idle slots.
func (s *Slots[K]) Copy() map[K]State {
	out := make(map[K]State, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}
