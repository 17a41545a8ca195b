package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/gtp-ogs-bot/internal/domain"
)

// memrepo is used when no database is configured.
type memrepo struct {
	mu     sync.RWMutex
	nextID int64
	games  map[string]*domain.GameRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{games: make(map[string]*domain.GameRecord)}
}

func (m *memrepo) InsertGame(_ context.Context, game *domain.GameRecord) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[game.GameID]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	cp := *game
	cp.ID = m.nextID
	m.games[game.GameID] = &cp
	return cp.ID, nil
}

func (m *memrepo) RecentGames(_ context.Context, limit int) ([]*domain.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.GameRecord, 0, len(m.games))
	for _, g := range m.games {
		cp := *g
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].FinishedAt.Equal(items[j].FinishedAt) {
			return items[i].FinishedAt.After(items[j].FinishedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
