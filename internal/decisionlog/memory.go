package decisionlog

import (
	"context"
	"strings"
	"sync"
)

const defaultRecentCap = 1000

// MemoryStore keeps decision records in a bounded in-memory ring buffer.
type MemoryStore struct {
	mu sync.Mutex
	// recent is a bounded ring buffer of the most recent records.
	recent []Record
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewMemory creates an in-memory decision store. An optional capacity
// parameter sets the ring buffer size (default 1000).
func NewMemory(capacity ...int) *MemoryStore {
	cap := resolveCapacity(capacity...)
	return &MemoryStore{
		recent: make([]Record, 0, cap),
		cap:    cap,
	}
}

// Append stores records in the ring buffer, dropping the oldest when full.
func (s *MemoryStore) Append(_ context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Recent returns the n most recent records (newest first).
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.recent)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil, nil
	}
	result := make([]Record, n)
	for i := 0; i < n; i++ {
		result[i] = s.recent[total-1-i]
	}
	return result, nil
}

// Query retrieves records matching the filter from the ring buffer.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []Record
	// Iterate newest first.
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.recent[i]
		if filter.AgentID != "" && !strings.EqualFold(rec.AgentID, filter.AgentID) {
			continue
		}
		if filter.PolicyID != "" && rec.PolicyID != filter.PolicyID {
			continue
		}
		if filter.Allow != nil && rec.Allow != *filter.Allow {
			continue
		}
		if !filter.Since.IsZero() && rec.Time.Before(filter.Since) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// Close releases resources. No-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time interface verification.
var _ Store = (*MemoryStore)(nil)
