package cashback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finguru/internal/core"
)

// MemoryStore keeps bonuses in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	bonuses map[string][]core.CashbackBonus
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bonuses: make(map[string][]core.CashbackBonus),
		ids:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) Save(ctx context.Context, b core.CashbackBonus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[b.ID]; ok {
		return fmt.Errorf("cashback bonus %s: %w", b.ID, core.ErrDuplicate)
	}
	m.ids[b.ID] = struct{}{}
	m.bonuses[b.ClientID] = append(m.bonuses[b.ClientID], b)
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context, clientID string, now time.Time) ([]core.CashbackBonus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []core.CashbackBonus
	for _, b := range m.bonuses[clientID] {
		if b.Active(now) {
			active = append(active, b)
		}
	}
	return active, nil
}

// PurgeExpired drops bonuses whose validity ended at or before now.
func (m *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for clientID, list := range m.bonuses {
		kept := list[:0]
		for _, b := range list {
			if b.Active(now) {
				kept = append(kept, b)
				continue
			}
			delete(m.ids, b.ID)
			purged++
		}
		if len(kept) == 0 {
			delete(m.bonuses, clientID)
		} else {
			m.bonuses[clientID] = kept
		}
	}
	return purged, nil
}
