package memory

import (
	"context"
	"sort"
	"sync"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	byMint map[string]*domain.Token
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		byMint: make(map[string]*domain.Token),
	}
}

// InsertIfAbsent adds a token unless the mint exists. Reports whether it was inserted.
func (s *TokenStore) InsertIfAbsent(_ context.Context, t *domain.Token) (bool, error) {
	if t == nil || t.Mint == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMint[t.Mint]; exists {
		return false, nil
	}

	s.byMint[t.Mint] = copyToken(t)
	return true, nil
}

// UpdateMetadata sets name, symbol and uri. Returns ErrNotFound if the mint does not exist.
func (s *TokenStore) UpdateMetadata(_ context.Context, mint string, meta domain.TokenMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.byMint[mint]
	if !exists {
		return storage.ErrNotFound
	}

	updated := t.WithMetadata(meta)
	s.byMint[mint] = &updated
	return nil
}

// Get retrieves a token by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(_ context.Context, mint string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.byMint[mint]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyToken(t), nil
}

// List retrieves all tokens ordered by created_at ASC, mint ASC.
func (s *TokenStore) List(_ context.Context) ([]*domain.Token, error) {
	s.mu.RLock()
	result := make([]*domain.Token, 0, len(s.byMint))
	for _, t := range s.byMint {
		result = append(result, copyToken(t))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Mint < result[j].Mint
	})
	return result, nil
}

func copyToken(t *domain.Token) *domain.Token {
	c := *t
	if t.Name != nil {
		name := *t.Name
		c.Name = &name
	}
	if t.Symbol != nil {
		symbol := *t.Symbol
		c.Symbol = &symbol
	}
	if t.URI != nil {
		uri := *t.URI
		c.URI = &uri
	}
	return &c
}

var _ storage.TokenStore = (*TokenStore)(nil)
