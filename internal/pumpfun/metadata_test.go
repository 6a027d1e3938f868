package pumpfun

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpfun-candles/internal/solana"
)

type fakeFetcher struct {
	accounts map[string]*solana.AccountInfo
	err      error
	calls    []string
}

func (f *fakeFetcher) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	f.calls = append(f.calls, pubkey)
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts[pubkey], nil
}

func encodeMetaplex(name, symbol, uri string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(metadataV1Key)
	buf.Write(testKey(7)) // update authority
	buf.Write(testKey(1)) // mint
	// On-chain strings are zero padded to their max length.
	putString(&buf, name+string(make([]byte, 32-len(name))))
	putString(&buf, symbol+string(make([]byte, 10-len(symbol))))
	putString(&buf, uri)
	buf.WriteByte(1) // trailing fields are ignored
	return buf.Bytes()
}

func TestMetadataPDA(t *testing.T) {
	mint := base58.Encode(testKey(1))

	pda, err := MetadataPDA(mint)
	require.NoError(t, err)

	raw, err := base58.Decode(pda)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.False(t, isOnCurve(raw), "program address must be off curve")

	again, err := MetadataPDA(mint)
	require.NoError(t, err)
	assert.Equal(t, pda, again)

	other, err := MetadataPDA(base58.Encode(testKey(2)))
	require.NoError(t, err)
	assert.NotEqual(t, pda, other)
}

func TestMetadataPDA_InvalidMint(t *testing.T) {
	_, err := MetadataPDA("0OIl")
	assert.Error(t, err)

	_, err = MetadataPDA(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestParseMetaplexMetadata(t *testing.T) {
	meta, err := ParseMetaplexMetadata(encodeMetaplex("Frog", "FRG", "https://x/frog.json"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Frog", meta.Name)
	assert.Equal(t, "FRG", meta.Symbol)
	assert.Equal(t, "https://x/frog.json", meta.URI)
}

func TestParseMetaplexMetadata_WrongKey(t *testing.T) {
	data := encodeMetaplex("Frog", "FRG", "u")
	data[0] = 1
	meta, err := ParseMetaplexMetadata(data)
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestParseMetaplexMetadata_OversizedSymbol(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(metadataV1Key)
	buf.Write(testKey(7))
	buf.Write(testKey(1))
	putString(&buf, "Frog")
	putString(&buf, string(bytes.Repeat([]byte("S"), 64)))
	putString(&buf, "u")

	_, err := ParseMetaplexMetadata(buf.Bytes())
	assert.Error(t, err)
}

func TestMetadataSource_Fetch(t *testing.T) {
	mint := base58.Encode(testKey(1))
	pda, err := MetadataPDA(mint)
	require.NoError(t, err)

	fetcher := &fakeFetcher{accounts: map[string]*solana.AccountInfo{
		pda: {Owner: MetaplexProgramID, Data: base64.StdEncoding.EncodeToString(encodeMetaplex("Frog", "FRG", "https://x/frog.json"))},
	}}
	src := NewMetadataSource(fetcher)

	meta, err := src.Fetch(context.Background(), mint)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "FRG", meta.Symbol)
	assert.Equal(t, []string{pda}, fetcher.calls)
}

func TestMetadataSource_FetchMissingAccount(t *testing.T) {
	src := NewMetadataSource(&fakeFetcher{})
	meta, err := src.Fetch(context.Background(), base58.Encode(testKey(5)))
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMetadataSource_FetchRPCError(t *testing.T) {
	boom := errors.New("rpc down")
	src := NewMetadataSource(&fakeFetcher{err: boom})
	_, err := src.Fetch(context.Background(), base58.Encode(testKey(5)))
	assert.ErrorIs(t, err, boom)
}
