package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"proxyrotor/proxypool/model"
)

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	outcomes  []model.SessionOutcome
	snapshots []model.QualitySnapshot
	closed    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, o model.SessionOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, since time.Time) ([]model.SessionOutcome, error) {
	return s.QueryProxy(ctx, "", since)
}

func (s *MemoryStore) QueryProxy(ctx context.Context, key string, since time.Time) ([]model.SessionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.SessionOutcome
	for _, o := range s.outcomes {
		if o.Timestamp.After(since) && (key == "" || o.ProxyKey == key) {
			out = append(out, o)
		}
	}
	sortOutcomes(out)
	return out, nil
}

func (s *MemoryStore) AppendSnapshots(ctx context.Context, snaps []model.QualitySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.snapshots = append(s.snapshots, snaps...)
	return nil
}

func (s *MemoryStore) QuerySnapshots(ctx context.Context, key string, since time.Time) ([]model.QualitySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []model.QualitySnapshot
	for _, sn := range s.snapshots {
		if sn.Timestamp.After(since) && (key == "" || sn.ProxyKey == key) {
			out = append(out, sn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	kept := s.outcomes[:0]
	for _, o := range s.outcomes {
		if !o.Timestamp.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	removed := int64(len(s.outcomes) - len(kept))
	s.outcomes = kept

	keptSnaps := s.snapshots[:0]
	for _, sn := range s.snapshots {
		if !sn.Timestamp.Before(cutoff) {
			keptSnaps = append(keptSnaps, sn)
		}
	}
	s.snapshots = keptSnaps
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortOutcomes(out []model.SessionOutcome) {
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
}
