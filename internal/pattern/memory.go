package pattern

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps patterns in process memory. Each operation holds the
// store mutex for its whole read-modify-write.
type MemoryStore struct {
	mu       sync.Mutex
	patterns map[string]*Pattern
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patterns: make(map[string]*Pattern)}
}

func (s *MemoryStore) UpsertBySignature(ctx context.Context, signature string, seenAt time.Time) (*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := IDFor(signature)
	p, ok := s.patterns[id]
	if !ok {
		p = &Pattern{
			ID:          id,
			Signature:   signature,
			FirstSeenAt: seenAt,
		}
		s.patterns[id] = p
	}
	p.OccurrenceCount++
	p.LastSeenAt = seenAt
	return p.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, signature string) (*Pattern, error) {
	return s.GetByID(ctx, IDFor(signature))
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) IncrementOutcome(ctx context.Context, id string, outcome Outcome) (*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if outcome == OutcomeSuccess {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	return p.Clone(), nil
}

func (s *MemoryStore) AttachRemediation(ctx context.Context, id string, d Descriptor) (*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.Params = maps.Clone(d.Params)
	p.Remediation = &d
	return p.Clone(), nil
}

func (s *MemoryStore) ClaimApplication(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return false, ErrNotFound
	}
	if !p.LastAppliedAt.IsZero() && now.Sub(p.LastAppliedAt) < cooldown {
		return false, nil
	}
	p.LastAppliedAt = now
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.Clone())
	}
	s.mu.Unlock()

	sortByLastSeen(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// sortByLastSeen orders newest first, breaking ties by id for stable output.
func sortByLastSeen(ps []*Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].LastSeenAt.Equal(ps[j].LastSeenAt) {
			return ps[i].LastSeenAt.After(ps[j].LastSeenAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
