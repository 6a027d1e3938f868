package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// InsertIfAbsent adds a token unless the mint exists. Reports whether a row was inserted.
func (s *TokenStore) InsertIfAbsent(ctx context.Context, t *domain.Token) (_ bool, err error) {
	if t == nil || t.Mint == "" {
		return false, storage.ErrInvalidInput
	}
	defer observe("insert_token", time.Now(), &err)

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO tokens (mint, name, symbol, uri, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mint) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query, t.Mint, t.Name, t.Symbol, t.URI, createdAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateMetadata sets name, symbol and uri. Returns ErrNotFound if the mint does not exist.
func (s *TokenStore) UpdateMetadata(ctx context.Context, mint string, meta domain.TokenMetadata) (err error) {
	defer observe("update_token_metadata", time.Now(), &err)

	query := `
		UPDATE tokens SET name = $2, symbol = $3, uri = $4
		WHERE mint = $1
	`

	tag, err := s.pool.Exec(ctx, query, mint, meta.Name, meta.Symbol, meta.URI)
	if err != nil {
		return fmt.Errorf("update token metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a token by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, mint string) (_ *domain.Token, err error) {
	defer observe("get_token", time.Now(), &err)

	query := `
		SELECT mint, name, symbol, uri, created_at
		FROM tokens
		WHERE mint = $1
	`

	t, err := scanToken(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// List retrieves all tokens ordered by created_at ASC, mint ASC.
func (s *TokenStore) List(ctx context.Context) (_ []*domain.Token, err error) {
	defer observe("list_tokens", time.Now(), &err)

	query := `
		SELECT mint, name, symbol, uri, created_at
		FROM tokens
		ORDER BY created_at ASC, mint ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return result, nil
}

// scanToken scans a single row into Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	if err := row.Scan(&t.Mint, &t.Name, &t.Symbol, &t.URI, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
