package pumpfun

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 32)
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

func encodeTrade(sol, tok uint64, isBuy bool, ts int64, withReserves bool) []byte {
	var buf bytes.Buffer
	buf.Write(tradeEventDiscriminator[:])
	buf.Write(testKey(1))
	putU64(&buf, sol)
	putU64(&buf, tok)
	if isBuy {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(testKey(2))
	putU64(&buf, uint64(ts))
	if withReserves {
		putU64(&buf, 30_000_000_000)
		putU64(&buf, 1_000_000_000_000_000)
	}
	return buf.Bytes()
}

func encodeCreate(name, symbol, uri string) []byte {
	var buf bytes.Buffer
	buf.Write(createEventDiscriminator[:])
	putString(&buf, name)
	putString(&buf, symbol)
	putString(&buf, uri)
	buf.Write(testKey(1))
	buf.Write(testKey(3))
	buf.Write(testKey(2))
	return buf.Bytes()
}

func dataLine(b []byte) string {
	return programDataPrefix + base64.StdEncoding.EncodeToString(b)
}

func wrap(lines ...string) []string {
	logs := []string{"Program " + ProgramID + " invoke [1]", "Program log: Instruction: Buy"}
	logs = append(logs, lines...)
	return append(logs, "Program "+ProgramID+" success")
}

func TestParseLogs_TradeEvent(t *testing.T) {
	// 0.5 SOL for 1000 tokens.
	logs := wrap(dataLine(encodeTrade(500_000_000, 1_000_000_000, true, 1_700_000_000, true)))

	events := ParseLogs(logs)
	require.Len(t, events, 1)
	ev := events[0].Trade
	require.NotNil(t, ev)

	assert.Equal(t, base58.Encode(testKey(1)), ev.Mint)
	assert.Equal(t, base58.Encode(testKey(2)), ev.User)
	assert.True(t, ev.IsBuy)
	assert.InDelta(t, 0.0005, ev.Price(), 1e-12)
	assert.InDelta(t, 1000.0, ev.Size(), 1e-9)
	assert.Equal(t, uint64(30_000_000_000), ev.VirtualSolReserves)

	trade := ev.ToTrade("sig1")
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), trade.Time)
	assert.Equal(t, "sig1", trade.Signature)
	assert.NoError(t, trade.Validate())
}

func TestParseLogs_TradeEventWithoutReserves(t *testing.T) {
	events := ParseLogs(wrap(dataLine(encodeTrade(1, 1, false, 1_700_000_000, false))))
	require.Len(t, events, 1)
	assert.False(t, events[0].Trade.IsBuy)
	assert.Zero(t, events[0].Trade.VirtualSolReserves)
}

func TestParseLogs_CreateEvent(t *testing.T) {
	events := ParseLogs(wrap(dataLine(encodeCreate("Frog", "FRG", "https://ipfs.io/ipfs/frog"))))
	require.Len(t, events, 1)
	ev := events[0].Create
	require.NotNil(t, ev)

	assert.Equal(t, base58.Encode(testKey(1)), ev.Mint)
	assert.Equal(t, base58.Encode(testKey(3)), ev.BondingCurve)
	meta := ev.Metadata()
	assert.Equal(t, "Frog", meta.Name)
	assert.Equal(t, "FRG", meta.Symbol)
	assert.Equal(t, "https://ipfs.io/ipfs/frog", meta.URI)
}

func TestParseLogs_IgnoresDataOutsideProgram(t *testing.T) {
	trade := dataLine(encodeTrade(1, 1, true, 1_700_000_000, false))
	logs := []string{
		"Program 11111111111111111111111111111111 invoke [1]",
		trade,
		"Program 11111111111111111111111111111111 success",
	}
	assert.Empty(t, ParseLogs(logs))
}

func TestParseLogs_NestedInvocation(t *testing.T) {
	trade := dataLine(encodeTrade(1, 1, true, 1_700_000_000, false))
	logs := []string{
		"Program JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4 invoke [1]",
		"Program " + ProgramID + " invoke [2]",
		trade,
		"Program " + ProgramID + " success",
		"Program JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4 success",
	}
	assert.Len(t, ParseLogs(logs), 1)
}

func TestParseLogs_SkipsMalformed(t *testing.T) {
	truncated := encodeTrade(1, 1, true, 1_700_000_000, false)[:50]
	unknown := append([]byte{1, 2, 3, 4, 5, 6, 7, 8}, testKey(9)...)
	logs := wrap(
		programDataPrefix+"!!!not-base64",
		dataLine(truncated),
		dataLine(unknown),
		dataLine(encodeTrade(2, 2, true, 1_700_000_000, false)),
	)

	events := ParseLogs(logs)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].Trade.SolAmount)
}

func TestTradeEvent_ZeroTokensIsInvalid(t *testing.T) {
	ev := TradeEvent{Mint: "m", SolAmount: 10, TokenAmount: 0, Timestamp: 1_700_000_000}
	assert.Zero(t, ev.Price())
	assert.Error(t, ev.ToTrade("").Validate())
}

func TestDecodeEvent_TooShort(t *testing.T) {
	_, ok := DecodeEvent([]byte{1, 2, 3})
	assert.False(t, ok)
}
