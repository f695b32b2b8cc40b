package scan

import (
	"context"
	"strings"
	"sync"

	"github.com/mbd888/chainguard/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Result
	byAddress map[string][]*Result // lowercased address → results, oldest first
}

// NewMemoryStore creates an in-memory scan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Result),
		byAddress: make(map[string][]*Result),
	}
}

func (s *MemoryStore) Save(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *result
	addr := strings.ToLower(result.Address)
	s.byID[result.ID] = &r
	s.byAddress[addr] = append(s.byAddress[addr], &r)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListByAddress(ctx context.Context, address string, limit int, opts ...ListOption) ([]*Result, error) {
	o := applyListOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byAddress[strings.ToLower(address)]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	var result []*Result
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if o.cursor != nil && !beforeCursor(r, o.cursor) {
			continue
		}
		cp := *r
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// beforeCursor reports whether r sits strictly after the cursor position
// in the newest-first ordering (timestamp descending, ID as tie-breaker).
func beforeCursor(r *Result, c *pagination.Cursor) bool {
	if r.Timestamp.Before(c.Timestamp) {
		return true
	}
	return r.Timestamp.Equal(c.Timestamp) && r.ID < c.ID
}
