package practice

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-opening-coach/internal/domain"
)

// memrepo keeps archived games in process when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID    int64
	byID      map[int64]*domain.PracticeGame
	bySession map[string]*domain.PracticeGame
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:      make(map[int64]*domain.PracticeGame),
		bySession: make(map[string]*domain.PracticeGame),
	}
}

func (m *memrepo) InsertGame(_ context.Context, game *domain.PracticeGame) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySession[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	stored := *game
	stored.ID = m.nextID
	stored.MovesUCI = append([]string(nil), game.MovesUCI...)
	stored.MovesSAN = append([]string(nil), game.MovesSAN...)
	m.byID[stored.ID] = &stored
	m.bySession[key] = &stored
	return stored.ID, nil
}

func (m *memrepo) GetRecentGames(_ context.Context, limit int) ([]*domain.PracticeGame, error) {
	m.mu.RLock()
	items := make([]*domain.PracticeGame, 0, len(m.byID))
	for _, g := range m.byID {
		cp := *g
		items = append(items, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetGameBySession(_ context.Context, sessionUUID string) (*domain.PracticeGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.bySession[strings.TrimSpace(sessionUUID)]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}
