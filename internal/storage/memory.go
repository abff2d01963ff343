package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
)

const defaultMemoryPageSize = 100

// Memory is an in-process Table. Scan pages count examined rows, not matches,
// so callers see the same truncated-but-empty pages a DynamoDB scan produces.
type Memory struct {
	name     string
	schema   Schema
	pageSize int

	mu   sync.RWMutex
	rows map[Key]Item
}

func NewMemory(name string, schema Schema) *Memory {
	return &Memory{
		name:     name,
		schema:   schema,
		pageSize: defaultMemoryPageSize,
		rows:     make(map[Key]Item),
	}
}

// WithPageSize caps every Query and Scan page.
func (m *Memory) WithPageSize(n int) *Memory {
	m.pageSize = n
	return m
}

func (m *Memory) Name() string   { return m.name }
func (m *Memory) Schema() Schema { return m.schema }

func (m *Memory) Get(ctx context.Context, key Key) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.rows[key]
	if !ok {
		return nil, nil
	}
	return maps.Clone(item), nil
}

func (m *Memory) Put(ctx context.Context, item Item) error {
	key, err := m.schema.KeyOf(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = maps.Clone(item)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return false, nil
	}
	delete(m.rows, key)
	return true, nil
}

func (m *Memory) BatchDelete(ctx context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.rows, key)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, in QueryInput) (Page, error) {
	var start *Key
	if in.StartToken != "" {
		key, err := DecodeToken(in.StartToken)
		if err != nil {
			return Page{}, err
		}
		start = &key
	}

	m.mu.RLock()
	keys := make([]Key, 0)
	for key := range m.rows {
		if key.PK == in.PK {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if in.Descending {
			return keys[i].SK > keys[j].SK
		}
		return keys[i].SK < keys[j].SK
	})
	page := m.collect(keys, start, in.Descending, m.limit(in.Limit), nil)
	m.mu.RUnlock()
	return page, nil
}

func (m *Memory) Scan(ctx context.Context, in ScanInput) (Page, error) {
	var start *Key
	if in.StartToken != "" {
		key, err := DecodeToken(in.StartToken)
		if err != nil {
			return Page{}, err
		}
		start = &key
	}

	m.mu.RLock()
	keys := make([]Key, 0, len(m.rows))
	for key := range m.rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	page := m.collect(keys, start, false, m.limit(in.Limit), in.Filter)
	m.mu.RUnlock()
	return page, nil
}

// collect walks ordered keys after start, examining at most limit rows.
// Callers hold the read lock.
func (m *Memory) collect(keys []Key, start *Key, desc bool, limit int, filter Filter) Page {
	var page Page
	examined := 0
	for i, key := range keys {
		if start != nil {
			if desc && !less(key, *start) {
				continue
			}
			if !desc && !less(*start, key) {
				continue
			}
		}
		examined++
		if filter.Match(m.rows[key]) {
			page.Items = append(page.Items, maps.Clone(m.rows[key]))
		}
		if examined == limit && i < len(keys)-1 {
			page.Next = EncodeToken(key)
			break
		}
	}
	return page
}

func (m *Memory) limit(requested int) int {
	if requested > 0 && (m.pageSize <= 0 || requested < m.pageSize) {
		return requested
	}
	return m.pageSize
}

func less(a, b Key) bool {
	if a.PK != b.PK {
		return a.PK < b.PK
	}
	return a.SK < b.SK
}
