package cursor

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is a non-durable Store.
type Memory struct {
	mu      sync.RWMutex
	cursors map[string]string
	// FailPut, when set, is returned by Put.
	FailPut error
}

// NewMemory returns a store seeded with cursors.
func NewMemory(cursors map[string]string) *Memory {
	m := &Memory{cursors: make(map[string]string, len(cursors))}
	for k, v := range cursors {
		m.cursors[k] = v
	}
	return m
}

func (m *Memory) EnsureSchema(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursors == nil {
		m.cursors = map[string]string{}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, table string) (string, bool, error) {
	if table == "" {
		return "", false, ErrEmptyTable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.cursors[table]
	return token, ok, nil
}

func (m *Memory) Put(_ context.Context, table, token string) error {
	if table == "" {
		return ErrEmptyTable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	if m.cursors == nil {
		m.cursors = map[string]string{}
	}
	m.cursors[table] = token
	return nil
}

func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.cursors))
	for k, v := range m.cursors {
		entries = append(entries, Entry{Table: k, Cursor: v})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Table, b.Table)
	})
	return entries, nil
}
