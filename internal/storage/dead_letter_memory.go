package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryDeadLetterStore keeps dead letters in a map. Contents are lost on
// restart; production deployments should configure postgres or mongodb.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string]DeadLetter
}

// NewMemoryDeadLetterStore constructs an empty in-memory dead letter store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{letters: make(map[string]DeadLetter)}
}

func (m *MemoryDeadLetterStore) SaveDeadLetter(ctx context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if letter.ID == "" {
		letter.ID = NewDeadLetterID()
	}
	m.letters[letter.ID] = letter
	return nil
}

func (m *MemoryDeadLetterStore) GetDeadLetter(ctx context.Context, id string) (DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	letter, ok := m.letters[id]
	if !ok {
		return DeadLetter{}, ErrNotFound
	}
	return letter, nil
}

func (m *MemoryDeadLetterStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	letters := make([]DeadLetter, 0, len(m.letters))
	for _, letter := range m.letters {
		letters = append(letters, letter)
	}
	sort.Slice(letters, func(i, j int) bool {
		if !letters[i].FirstFailedAt.Equal(letters[j].FirstFailedAt) {
			return letters[i].FirstFailedAt.Before(letters[j].FirstFailedAt)
		}
		return letters[i].ID < letters[j].ID
	})
	if limit > 0 && len(letters) > limit {
		letters = letters[:limit]
	}
	return letters, nil
}

func (m *MemoryDeadLetterStore) DeleteDeadLetter(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.letters[id]; !ok {
		return ErrNotFound
	}
	delete(m.letters, id)
	return nil
}

func (m *MemoryDeadLetterStore) PurgeDeadLetters(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.letters))
	m.letters = make(map[string]DeadLetter)
	return n, nil
}

func (m *MemoryDeadLetterStore) Close() error {
	return nil
}
