package domain

import "time"

// Placeholders rendered for tokens whose metadata is not known yet.
const (
	UnknownName   = "unknown"
	UnknownSymbol = "NAN"
	UnknownURI    = "unknown"
)

// Token is a traded mint. Created on first observation, enriched later, never deleted.
// Corresponds to the tokens table in PostgreSQL.
type Token struct {
	Mint      string    // PK
	Name      *string   // nullable until enriched
	Symbol    *string   // nullable until enriched
	URI       *string   // nullable until enriched
	CreatedAt time.Time // first observation
}

// TokenMetadata is the descriptive metadata of a token.
type TokenMetadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// Display returns the token's metadata with placeholders for missing fields.
func (t Token) Display() TokenMetadata {
	meta := TokenMetadata{Name: UnknownName, Symbol: UnknownSymbol, URI: UnknownURI}
	if t.Name != nil && *t.Name != "" {
		meta.Name = *t.Name
	}
	if t.Symbol != nil && *t.Symbol != "" {
		meta.Symbol = *t.Symbol
	}
	if t.URI != nil && *t.URI != "" {
		meta.URI = *t.URI
	}
	return meta
}

// WithMetadata returns a copy of t with all metadata fields set from meta.
func (t Token) WithMetadata(meta TokenMetadata) Token {
	name, symbol, uri := meta.Name, meta.Symbol, meta.URI
	t.Name, t.Symbol, t.URI = &name, &symbol, &uri
	return t
}
