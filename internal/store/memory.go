// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github-manager/internal/model"
)

// Memory is an in-memory implementation of RecordStore, AuditSink and
// StateStore. Records round-trip through JSON so field lookups behave like
// the Postgres JSONB store. Used in tests and local development.
type Memory struct {
	mu          sync.Mutex
	records     map[string][]byte
	audit       []model.AuditLogEntry
	rate        *model.RateLimitState
	lastRefresh *time.Time
}

func NewMemory() *Memory {
	return &Memory{records: map[string][]byte{}}
}

func recordID(kind, key string) string { return kind + "\x00" + key }

func (m *Memory) Exists(ctx context.Context, kind, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[recordID(kind, key)]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, kind, key string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[recordID(kind, key)]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (m *Memory) Create(ctx context.Context, kind, key string, record any) error {
	return m.put(kind, key, record)
}

func (m *Memory) Update(ctx context.Context, kind, key string, record any) error {
	return m.put(kind, key, record)
}

func (m *Memory) put(kind, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordID(kind, key)] = data
	return nil
}

func (m *Memory) Delete(ctx context.Context, kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := recordID(kind, key)
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) ListKeys(ctx context.Context, kind string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	prefix := kind + "\x00"
	for id := range m.records {
		if strings.HasPrefix(id, prefix) {
			keys = append(keys, strings.TrimPrefix(id, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) CountWhere(ctx context.Context, kind, field, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	prefix := kind + "\x00"
	for id, data := range m.records {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if field == "" {
			count++
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return 0, err
		}
		// Text comparison, matching the JSONB ->> operator.
		if fmt.Sprint(fields[field]) == value {
			count++
		}
	}
	return count, nil
}

func (m *Memory) Append(ctx context.Context, entry model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a copy of the appended audit trail.
func (m *Memory) AuditEntries() []model.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditLogEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *Memory) SaveRateLimit(ctx context.Context, remaining int, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = &model.RateLimitState{Remaining: remaining, ResetAt: resetAt}
	return nil
}

func (m *Memory) RateLimit(ctx context.Context) (*model.RateLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rate == nil {
		return nil, ErrNotFound
	}
	state := *m.rate
	return &state, nil
}

func (m *Memory) SaveTokenRefresh(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRefresh = &at
	return nil
}

// LastTokenRefresh returns the recorded refresh time, if any.
func (m *Memory) LastTokenRefresh() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastRefresh == nil {
		return time.Time{}, false
	}
	return *m.lastRefresh, true
}
