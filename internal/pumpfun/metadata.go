package pumpfun

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/solana"
)

// MetaplexProgramID is the Metaplex Token Metadata program.
const MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

const metadataV1Key = 4

// Borsh string caps of the Metaplex metadata account.
const (
	maxNameLen   = 100
	maxSymbolLen = 20
	maxURILen    = 200
)

// AccountFetcher reads raw account data.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

var _ AccountFetcher = (solana.RPCClient)(nil)

// MetadataSource resolves token metadata from the Metaplex metadata account.
type MetadataSource struct {
	rpc AccountFetcher
}

// NewMetadataSource creates a metadata source backed by RPC account reads.
func NewMetadataSource(rpc AccountFetcher) *MetadataSource {
	return &MetadataSource{rpc: rpc}
}

// Fetch returns the token's metadata, or nil if the mint has no metadata account.
func (s *MetadataSource) Fetch(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	pda, err := MetadataPDA(mint)
	if err != nil {
		return nil, err
	}

	info, err := s.rpc.GetAccountInfo(ctx, pda)
	if err != nil {
		return nil, fmt.Errorf("get metadata account %s: %w", pda, err)
	}
	if info == nil {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode metadata account: %w", err)
	}
	return ParseMetaplexMetadata(data)
}

// MetadataPDA derives the Metaplex metadata address for a mint.
// Seeds: ["metadata", metaplex_program_id, mint].
func MetadataPDA(mint string) (string, error) {
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint %q: %w", mint, err)
	}
	if len(mintBytes) != 32 {
		return "", fmt.Errorf("mint %q: want 32 bytes, got %d", mint, len(mintBytes))
	}
	programBytes, err := base58.Decode(MetaplexProgramID)
	if err != nil {
		return "", err
	}

	seeds := [][]byte{[]byte("metadata"), programBytes, mintBytes}
	pda, ok := findProgramAddress(seeds, programBytes)
	if !ok {
		return "", fmt.Errorf("no valid bump for mint %q", mint)
	}
	return pda, nil
}

// findProgramAddress searches bumps from 255 down for the first hash that is
// off the ed25519 curve.
func findProgramAddress(seeds [][]byte, programID []byte) (string, bool) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), true
		}
	}
	return "", false
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// ParseMetaplexMetadata parses a Metaplex metadata account.
// Layout: key(u8) update_authority(32) mint(32) name(string) symbol(string) uri(string) ...
// Returns nil when the account is not a MetadataV1 account.
func ParseMetaplexMetadata(data []byte) (*domain.TokenMetadata, error) {
	if len(data) < 65 || data[0] != metadataV1Key {
		return nil, nil
	}

	r := reader{buf: data, off: 65}
	name := r.boundedString(maxNameLen)
	symbol := r.boundedString(maxSymbolLen)
	uri := r.boundedString(maxURILen)
	if r.err != nil {
		return nil, fmt.Errorf("parse metaplex metadata: %w", r.err)
	}

	return &domain.TokenMetadata{Name: name, Symbol: symbol, URI: uri}, nil
}

func (r *reader) boundedString(limit int) string {
	if r.err != nil {
		return ""
	}
	if r.remaining() >= 4 {
		if n := binary.LittleEndian.Uint32(r.buf[r.off:]); n > uint32(limit) {
			r.err = fmt.Errorf("string length %d exceeds %d", n, limit)
			return ""
		}
	}
	return r.string()
}
