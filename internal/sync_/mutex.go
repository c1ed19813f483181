// Package sync_ has small typed wrappers around the sync primitives.
package sync_

import "sync"

// Mutexed guards a value with a mutex. T is usually a reference type (map, pointer, Set) mutated inside Locked.
type Mutexed[T any] struct {
	mu    sync.Mutex
	value T
}

func NewMutexed[T any](value T) *Mutexed[T] {
	return &Mutexed[T]{value: value}
}

// Locked runs f with the lock held.
func (m *Mutexed[T]) Locked(f func(T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m.value)
}

func (m *Mutexed[T]) Get() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

func (m *Mutexed[T]) Set(value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
}

type RWMutexed[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewRWMutexed[T any](value T) *RWMutexed[T] {
	return &RWMutexed[T]{value: value}
}

func (m *RWMutexed[T]) Locked(f func(T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m.value)
}

// RLocked runs f with the read lock held; f must not modify the value.
func (m *RWMutexed[T]) RLocked(f func(T) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f(m.value)
}

func (m *RWMutexed[T]) Get() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

// Swap replaces the value, returning the previous one.
func (m *RWMutexed[T]) Swap(value T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.value
	m.value = value
	return old
}
