package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"treemerge/internal/table"
)

// Memory is a Container backed by tables already in memory. Partitions are
// listed in insertion order. It is used by tests and by callers that build
// tables themselves.
type Memory struct {
	mu    sync.RWMutex
	order []string
	parts map[string]map[string]*table.Table
}

// NewMemory returns an empty container.
func NewMemory() *Memory {
	return &Memory{parts: map[string]map[string]*table.Table{}}
}

// Add registers tables under partition, creating the partition on first use.
// A table with the same name replaces the previous one.
func (m *Memory) Add(partition string, tables ...*table.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[partition]
	if !ok {
		p = map[string]*table.Table{}
		m.parts[partition] = p
		m.order = append(m.order, partition)
	}
	for _, t := range tables {
		p[t.Name()] = t
	}
}

// Partitions returns partition names in the order they were first added.
func (m *Memory) Partitions(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

// Partition returns a snapshot view of the named partition.
func (m *Memory) Partition(_ context.Context, name string) (Partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, name)
	}
	return &memPartition{name: name, tables: p}, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memPartition struct {
	name   string
	tables map[string]*table.Table
}

func (p *memPartition) Name() string { return p.name }

// Tables returns the sorted table names.
func (p *memPartition) Tables(context.Context) ([]string, error) {
	out := make([]string, 0, len(p.tables))
	for k := range p.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Table returns the stored table itself, not a copy. Callers must unbind
// carriers before reusing it.
func (p *memPartition) Table(ctx context.Context, name string) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := p.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrTableNotFound, p.name, name)
	}
	return t, nil
}

func (p *memPartition) Close() error { return nil }
