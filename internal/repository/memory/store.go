// Package memory provides a generic thread-safe in-memory record store
// used by the repository adapters.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Store when the requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is a generic thread-safe in-memory record store. Values are cloned
// on the way in and out so callers never share a record with the store.
type Store[V any] struct {
	mu      sync.RWMutex
	data    map[string]V
	keyFunc func(V) string
	clone   func(V) V
}

// New creates a Store with a key extractor and a clone function. A nil
// clone stores values as given.
func New[V any](keyFunc func(V) string, clone func(V) V) *Store[V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Store[V]{
		data:    make(map[string]V),
		keyFunc: keyFunc,
		clone:   clone,
	}
}

// Set inserts or replaces the value, using keyFunc to derive the key.
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.keyFunc(v)] = s.clone(v)
	return nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return s.clone(v), nil
}

// Update applies fn to the stored value under the write lock and stores the
// result. An error from fn leaves the record unchanged.
func (s *Store[V]) Update(_ context.Context, key string, fn func(V) (V, error)) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	cur, ok := s.data[key]
	if !ok {
		return zero, ErrNotFound
	}
	next, err := fn(s.clone(cur))
	if err != nil {
		return zero, err
	}
	s.data[s.keyFunc(next)] = s.clone(next)
	return s.clone(next), nil
}

// Swap runs fn with exclusive access to the whole store. get reads one value
// by key and scan returns every value matching pred. fn returns the values
// to write; nothing is written when it fails.
func (s *Store[V]) Swap(_ context.Context, fn func(get func(string) (V, bool), scan func(pred func(V) bool) []V) ([]V, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	get := func(key string) (V, bool) {
		v, ok := s.data[key]
		if ok {
			v = s.clone(v)
		}
		return v, ok
	}
	scan := func(pred func(V) bool) []V {
		var out []V
		for _, v := range s.data {
			if pred(v) {
				out = append(out, s.clone(v))
			}
		}
		return out
	}
	writes, err := fn(get, scan)
	if err != nil {
		return err
	}
	for _, v := range writes {
		s.data[s.keyFunc(v)] = s.clone(v)
	}
	return nil
}

// Delete removes the value for key. Returns ErrNotFound if absent.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// DeleteWhere removes every value matching pred and returns how many went.
func (s *Store[V]) DeleteWhere(_ context.Context, pred func(V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.data {
		if pred(v) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Filter returns the values for which pred returns true, ordered by less
// when it is non-nil.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool, less func(a, b V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, v := range s.data {
		if pred == nil || pred(v) {
			out = append(out, s.clone(v))
		}
	}
	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out, nil
}

// Len reports how many values are stored.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
