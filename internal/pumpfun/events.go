// Package pumpfun decodes pump.fun program events from transaction logs.
package pumpfun

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"pumpfun-candles/internal/domain"
)

// ProgramID is the pump.fun bonding curve program.
const ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Token and SOL decimals used to normalize raw amounts.
const (
	LamportsPerSOL   = 1e9
	TokenDecimalsPow = 1e6
)

const programDataPrefix = "Program data: "

var (
	tradeEventDiscriminator  = eventDiscriminator("TradeEvent")
	createEventDiscriminator = eventDiscriminator("CreateEvent")
)

// ErrShortEvent is returned when event data is truncated.
var ErrShortEvent = errors.New("pumpfun: event data too short")

// eventDiscriminator returns the Anchor event discriminator sha256("event:<name>")[:8].
func eventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// TradeEvent is emitted on every buy and sell against a bonding curve.
type TradeEvent struct {
	Mint                 string
	SolAmount            uint64 // lamports
	TokenAmount          uint64 // raw, 6 decimals
	IsBuy                bool
	User                 string
	Timestamp            int64 // unix seconds
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
}

// Price returns the trade price in SOL per token. Zero when no tokens moved.
func (e *TradeEvent) Price() float64 {
	if e.TokenAmount == 0 {
		return 0
	}
	return (float64(e.SolAmount) / LamportsPerSOL) / (float64(e.TokenAmount) / TokenDecimalsPow)
}

// Size returns the token amount with decimals applied.
func (e *TradeEvent) Size() float64 {
	return float64(e.TokenAmount) / TokenDecimalsPow
}

// ToTrade converts the event to a domain trade.
func (e *TradeEvent) ToTrade(signature string) domain.Trade {
	return domain.Trade{
		Mint:      e.Mint,
		Price:     e.Price(),
		Size:      e.Size(),
		Time:      time.Unix(e.Timestamp, 0).UTC(),
		Signature: signature,
		IsBuy:     e.IsBuy,
	}
}

// CreateEvent is emitted when a token is launched.
type CreateEvent struct {
	Name         string
	Symbol       string
	URI          string
	Mint         string
	BondingCurve string
	User         string
}

// Metadata returns the token metadata carried by the event.
func (e *CreateEvent) Metadata() domain.TokenMetadata {
	return domain.TokenMetadata{Name: e.Name, Symbol: e.Symbol, URI: e.URI}
}

// Event is one decoded pump.fun event; exactly one field is set.
type Event struct {
	Trade  *TradeEvent
	Create *CreateEvent
}

// ParseLogs decodes every pump.fun event emitted in a transaction's logs.
// Only "Program data:" lines inside a pump.fun invocation are considered;
// undecodable lines are skipped.
func ParseLogs(logs []string) []Event {
	var events []Event
	depth := 0 // pump.fun frames on the invocation stack

	for _, line := range logs {
		switch {
		case strings.HasPrefix(line, "Program "+ProgramID+" invoke"):
			depth++
			continue
		case strings.HasPrefix(line, "Program "+ProgramID+" success"),
			strings.HasPrefix(line, "Program "+ProgramID+" failed"):
			if depth > 0 {
				depth--
			}
			continue
		}

		if depth == 0 || !strings.HasPrefix(line, programDataPrefix) {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			continue
		}
		if ev, ok := DecodeEvent(data); ok {
			events = append(events, ev)
		}
	}
	return events
}

// DecodeEvent decodes raw Anchor event data. Reports false for unknown or malformed events.
func DecodeEvent(data []byte) (Event, bool) {
	if len(data) < 8 {
		return Event{}, false
	}
	var disc [8]byte
	copy(disc[:], data[:8])

	switch disc {
	case tradeEventDiscriminator:
		trade, err := decodeTradeEvent(data[8:])
		if err != nil {
			return Event{}, false
		}
		return Event{Trade: trade}, true
	case createEventDiscriminator:
		create, err := decodeCreateEvent(data[8:])
		if err != nil {
			return Event{}, false
		}
		return Event{Create: create}, true
	default:
		return Event{}, false
	}
}

// decodeTradeEvent parses the borsh TradeEvent body:
// mint(32) sol_amount(u64) token_amount(u64) is_buy(bool) user(32) timestamp(i64)
// followed by virtual reserves, which older events omit.
func decodeTradeEvent(b []byte) (*TradeEvent, error) {
	r := reader{buf: b}
	e := &TradeEvent{
		Mint:        r.pubkey(),
		SolAmount:   r.u64(),
		TokenAmount: r.u64(),
		IsBuy:       r.bool(),
		User:        r.pubkey(),
		Timestamp:   int64(r.u64()),
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() >= 16 {
		e.VirtualSolReserves = r.u64()
		e.VirtualTokenReserves = r.u64()
	}
	return e, nil
}

// decodeCreateEvent parses the borsh CreateEvent body:
// name(string) symbol(string) uri(string) mint(32) bonding_curve(32) user(32).
func decodeCreateEvent(b []byte) (*CreateEvent, error) {
	r := reader{buf: b}
	e := &CreateEvent{
		Name:         r.string(),
		Symbol:       r.string(),
		URI:          r.string(),
		Mint:         r.pubkey(),
		BondingCurve: r.pubkey(),
		User:         r.pubkey(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

// reader is a sticky-error borsh reader.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortEvent, n, r.off, r.remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) bool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

func (r *reader) pubkey() string {
	b := r.take(32)
	if b == nil {
		return ""
	}
	return base58.Encode(b)
}

func (r *reader) string() string {
	lb := r.take(4)
	if lb == nil {
		return ""
	}
	n := binary.LittleEndian.Uint32(lb)
	if n > 1024 {
		r.err = fmt.Errorf("pumpfun: string length %d too large", n)
		return ""
	}
	return strings.TrimRight(string(r.take(int(n))), "\x00")
}
