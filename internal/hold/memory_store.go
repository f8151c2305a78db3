package hold

import (
	"context"
	"sync"
	"time"

	"ms-boxoffice/internal/config"
)

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is a single-process hold manager for deployments without
// a shared store. One mutex per (tenant, performance) shard preserves
// the all-or-nothing acquire contract; expiry is checked lazily on the
// next read or acquire, never swept.
type MemoryStore struct {
	Config config.HoldConfig

	mu     sync.Mutex
	shards map[string]*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu    sync.Mutex
	holds map[string]memoryHold
}

func NewMemoryStore(cfg config.HoldConfig) *MemoryStore {
	return &MemoryStore{
		Config: cfg,
		shards: make(map[string]*memoryShard),
		now:    time.Now,
	}
}

func (s *MemoryStore) shard(tenant, performanceID string) *memoryShard {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenant + "/" + performanceID
	sh, ok := s.shards[key]
	if !ok {
		sh = &memoryShard{holds: make(map[string]memoryHold)}
		s.shards[key] = sh
	}
	return sh
}

func (s *MemoryStore) Acquire(_ context.Context, p AcquireParams) (AcquireResult, error) {
	if err := validateAcquire(p); err != nil {
		return AcquireResult{}, err
	}

	token := Token{Version: p.Version, Owner: p.Owner}.String()
	ttl := clampTTL(p.TTL, s.Config.MinTTL, s.Config.MaxTTL, s.Config.DefaultTTL)
	now := s.now()

	sh := s.shard(p.Tenant, p.PerformanceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var conflicts []string
	for _, seatID := range p.SeatIDs {
		cur, ok := sh.holds[seatID]
		if ok && cur.expiresAt.After(now) && cur.token != token {
			conflicts = append(conflicts, seatID)
		}
	}
	if len(conflicts) > 0 {
		return AcquireResult{OK: false, Conflicts: conflicts}, nil
	}

	expires := now.Add(ttl)
	for _, seatID := range p.SeatIDs {
		sh.holds[seatID] = memoryHold{token: token, expiresAt: expires}
	}
	return AcquireResult{OK: true, TTL: ttl}, nil
}

func (s *MemoryStore) Extend(_ context.Context, p ExtendParams) (bool, error) {
	token := Token{Version: p.Version, Owner: p.Owner}.String()
	ttl := clampTTL(p.TTL, s.Config.MinTTL, s.Config.MaxTTL, s.Config.DefaultTTL)
	now := s.now()

	sh := s.shard(p.Tenant, p.PerformanceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.holds[p.SeatID]
	if !ok || !cur.expiresAt.After(now) || cur.token != token {
		return false, nil
	}
	sh.holds[p.SeatID] = memoryHold{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, p ReleaseParams) (bool, error) {
	token := Token{Version: p.Version, Owner: p.Owner}.String()
	now := s.now()

	sh := s.shard(p.Tenant, p.PerformanceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.holds[p.SeatID]
	if !ok {
		return false, nil
	}
	if !cur.expiresAt.After(now) {
		delete(sh.holds, p.SeatID)
		return false, nil
	}
	if cur.token != token {
		return false, nil
	}
	delete(sh.holds, p.SeatID)
	return true, nil
}

func (s *MemoryStore) Current(_ context.Context, tenant, performanceID, seatID string) (string, error) {
	sh := s.shard(tenant, performanceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.holds[seatID]
	if !ok || !cur.expiresAt.After(s.now()) {
		return "", nil
	}
	return cur.token, nil
}

var _ Manager = (*MemoryStore)(nil)
