package reconcile

import (
	"encoding/json"
)

// State is a typed Binding: the value/setter pair a consumer works with.
type State[T any] struct {
	binding *Binding
	initial T
}

// Use binds key with a typed initial value.
func Use[T any](e *Engine, key string, initial T) *State[T] {
	data, err := json.Marshal(initial)
	if err != nil {
		e.config.Log(0, "reconcile: cannot encode initial value for %s: %v", key, err)
		data = nil
	}
	return &State[T]{binding: e.Bind(key, data), initial: initial}
}

// Binding returns the untyped binding.
func (s *State[T]) Binding() *Binding {
	return s.binding
}

// Get decodes the reconciled value. Values that do not decode into T are
// logged and replaced by the initial value.
func (s *State[T]) Get() T {
	return s.decode(s.binding.Get())
}

func (s *State[T]) decode(data json.RawMessage) T {
	var v T
	if len(data) == 0 {
		return s.initial
	}
	if err := json.Unmarshal(data, &v); err != nil {
		s.binding.engine.config.Log(0, "reconcile: cannot decode %s: %v", s.binding.key, err)
		return s.initial
	}
	return v
}

// Set replaces the value.
func (s *State[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update computes the next value from the current one.
func (s *State[T]) Update(fn func(prev T) T) {
	e := s.binding.engine
	s.binding.Update(func(prev json.RawMessage) json.RawMessage {
		data, err := json.Marshal(fn(s.decode(prev)))
		if err != nil {
			e.config.Log(0, "reconcile: cannot encode %s: %v", s.binding.key, err)
			return prev
		}
		return data
	})
}

// Delete clears the key and reverts to the initial value.
func (s *State[T]) Delete() {
	s.binding.Delete()
}

// OnChange registers fn for every new value.
func (s *State[T]) OnChange(fn func(T)) func() {
	return s.binding.OnChange(func(data json.RawMessage) {
		fn(s.decode(data))
	})
}

// Mode returns the binding's current source.
func (s *State[T]) Mode() Mode {
	return s.binding.Mode()
}

// Close unmounts the binding.
func (s *State[T]) Close() {
	s.binding.Close()
}
