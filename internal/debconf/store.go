package debconf

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the question database as the installer sees it.
type Store interface {
	Get(q string) (string, error)
	Set(q, value string) error
	Subst(template, key, value string) error
	Fset(q, flag, value string) error
}

// MapStore is an in-memory Store seeded from preseed answers. It stands in
// for a debconf frontend when the installer runs without one.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]string
	substs map[string]map[string]string
	flags  map[string]map[string]string
}

// NewMapStore returns a store holding a copy of answers.
func NewMapStore(answers map[string]string) *MapStore {
	s := &MapStore{
		values: make(map[string]string, len(answers)),
		substs: make(map[string]map[string]string),
		flags:  make(map[string]map[string]string),
	}
	for k, v := range answers {
		s.values[k] = v
	}
	return s
}

func (s *MapStore) Get(q string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[q]
	if !ok {
		return "", fmt.Errorf("%s: %w", q, ErrNotFound)
	}
	return v, nil
}

func (s *MapStore) Set(q, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[q] = value
	return nil
}

func (s *MapStore) Subst(template, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.substs[template]
	if !ok {
		m = make(map[string]string)
		s.substs[template] = m
	}
	m[key] = value
	return nil
}

func (s *MapStore) Fset(q, flag, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.flags[q]
	if !ok {
		m = make(map[string]string)
		s.flags[q] = m
	}
	m[flag] = value
	return nil
}

// Substs returns the substitution variables set on template.
func (s *MapStore) Substs(template string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.substs[template]))
	for k, v := range s.substs[template] {
		out[k] = v
	}
	return out
}

// Flag returns a flag set with Fset.
func (s *MapStore) Flag(q, flag string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[q][flag]
}

// Questions returns every question name in sorted order.
func (s *MapStore) Questions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the answer to q, or def when the question is missing or
// empty. Other errors are returned.
func Lookup(s Store, q, def string) (string, error) {
	v, err := s.Get(q)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	return v, nil
}

// Bool interprets the answer to q as a debconf boolean.
func Bool(s Store, q string, def bool) (bool, error) {
	v, err := Lookup(s, q, "")
	if err != nil || v == "" {
		return def, err
	}
	return v == "true", nil
}

// List splits a comma-separated multiselect answer.
func List(s Store, q string) ([]string, error) {
	v, err := Lookup(s, q, "")
	if err != nil || v == "" {
		return nil, err
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}
