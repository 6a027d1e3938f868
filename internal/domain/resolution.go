package domain

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the fixed width of a candle bucket.
// Corresponds to the resolution enum in PostgreSQL.
type Resolution uint8

// Supported resolutions. The zero value is invalid.
const (
	S1 Resolution = iota + 1
	M1
	M5
	M15
	H1
	D1
)

var allResolutions = []Resolution{S1, M1, M5, M15, H1, D1}

// AllResolutions returns every supported resolution, finest first.
func AllResolutions() []Resolution {
	out := make([]Resolution, len(allResolutions))
	copy(out, allResolutions)
	return out
}

// Valid reports whether r is one of the supported resolutions.
func (r Resolution) Valid() bool {
	return r >= S1 && r <= D1
}

// Duration returns the bucket width.
func (r Resolution) Duration() time.Duration {
	switch r {
	case S1:
		return time.Second
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case H1:
		return time.Hour
	case D1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// String returns the short label used in URLs and JSON ("1s", "1m", ...).
func (r Resolution) String() string {
	switch r {
	case S1:
		return "1s"
	case M1:
		return "1m"
	case M5:
		return "5m"
	case M15:
		return "15m"
	case H1:
		return "1h"
	case D1:
		return "1d"
	default:
		return fmt.Sprintf("Resolution(%d)", uint8(r))
	}
}

// Label returns the database enum label ("S1", "M1", ...).
func (r Resolution) Label() string {
	switch r {
	case S1:
		return "S1"
	case M1:
		return "M1"
	case M5:
		return "M5"
	case M15:
		return "M15"
	case H1:
		return "H1"
	case D1:
		return "D1"
	default:
		return ""
	}
}

// ParseResolution accepts either the short label ("5m") or the enum label ("M5"),
// case-insensitively.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1s", "s1":
		return S1, nil
	case "1m", "m1":
		return M1, nil
	case "5m", "m5":
		return M5, nil
	case "15m", "m15":
		return M15, nil
	case "1h", "h1":
		return H1, nil
	case "1d", "d1":
		return D1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResolution, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownResolution, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// BucketStart returns the start of the bucket containing t.
// Buckets are aligned in UTC: sub-day resolutions to multiples of their width
// since the Unix epoch, D1 to the UTC calendar day.
func (r Resolution) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	if r == D1 {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	// Zero time is midnight UTC, so truncation by any width dividing a day
	// is epoch-aligned.
	return t.Truncate(r.Duration())
}

// Next returns the start of the bucket following the one that starts at bucket.
func (r Resolution) Next(bucket time.Time) time.Time {
	if r == D1 {
		return bucket.UTC().AddDate(0, 0, 1)
	}
	return bucket.UTC().Add(r.Duration())
}

// Back returns the start of the bucket n buckets before bucket.
func (r Resolution) Back(bucket time.Time, n int) time.Time {
	if r == D1 {
		return bucket.UTC().AddDate(0, 0, -n)
	}
	return bucket.UTC().Add(-time.Duration(n) * r.Duration())
}
