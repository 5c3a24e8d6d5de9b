package config

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Store holds the current calibration snapshot. Readers call Load once per
// frame and keep the pointer for the whole frame; writers publish a fresh
// validated snapshot. A rejected update leaves the current snapshot in place.
type Store struct {
	current atomic.Pointer[CalibrationConfig]

	mu        sync.Mutex // serialises writers and guards listeners
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(*CalibrationConfig)
}

// NewStore validates initial and returns a store holding a copy of it.
func NewStore(initial *CalibrationConfig) (*Store, error) {
	if initial == nil {
		initial = DefaultCalibration()
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(initial.Clone())
	return s, nil
}

// Load returns the current snapshot. The result must be treated as read-only.
func (s *Store) Load() *CalibrationConfig {
	return s.current.Load()
}

// Replace validates next and publishes it.
func (s *Store) Replace(next *CalibrationConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	snap := next.Clone()
	s.current.Store(snap)
	listeners := append([]listener{}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(snap)
	}
	return nil
}

// Apply merges a partial update onto the current snapshot, validates the
// result and publishes it.
func (s *Store) Apply(patch *TuningConfig) (*CalibrationConfig, error) {
	if patch != nil {
		if err := patch.Validate(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	next := s.current.Load().Merge(patch)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.current.Store(next)
	listeners := append([]listener{}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(next)
	}
	return next, nil
}

// OnChange registers fn to be called after every accepted update. The
// returned func unregisters it.
func (s *Store) OnChange(fn func(*CalibrationConfig)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}
