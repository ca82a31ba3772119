package pricing

import (
	"sort"
	"strings"
	"time"
)

// RawValue is one market-value observation from the league-data feed.
type RawValue struct {
	AssetID  string    `json:"asset_id"`
	RawValue float64   `json:"raw_value"`
	AsOf     time.Time `json:"as_of"`
}

type point struct {
	asOf  time.Time
	value float64
}

// ValueBook is an immutable, as-of indexed snapshot of raw asset values.
// A book is never mutated after construction; the pricer swaps whole books.
type ValueBook struct {
	series  map[string][]point
	loaded  time.Time
	entries int
}

// NewValueBook indexes values by asset ID, sorted by as-of date. Entries with
// an empty ID or a negative value are dropped.
func NewValueBook(values []RawValue) *ValueBook {
	b := &ValueBook{series: make(map[string][]point), loaded: time.Now()}
	for _, v := range values {
		id := normalizeID(v.AssetID)
		if id == "" || v.RawValue < 0 {
			continue
		}
		b.series[id] = append(b.series[id], point{asOf: v.AsOf, value: v.RawValue})
		b.entries++
	}
	for id := range b.series {
		s := b.series[id]
		sort.SliceStable(s, func(i, j int) bool { return s[i].asOf.Before(s[j].asOf) })
	}
	return b
}

// Lookup returns the latest value for id observed at or before asOf.
// A zero asOf returns the most recent value.
func (b *ValueBook) Lookup(id string, asOf time.Time) (float64, bool) {
	if b == nil {
		return 0, false
	}
	s := b.series[normalizeID(id)]
	if len(s) == 0 {
		return 0, false
	}
	if asOf.IsZero() {
		return s[len(s)-1].value, true
	}
	// first index strictly after asOf
	i := sort.Search(len(s), func(i int) bool { return s[i].asOf.After(asOf) })
	if i == 0 {
		return 0, false
	}
	return s[i-1].value, true
}

// Assets returns the number of distinct assets in the book.
func (b *ValueBook) Assets() int {
	if b == nil {
		return 0
	}
	return len(b.series)
}

// Entries returns the number of observations in the book.
func (b *ValueBook) Entries() int {
	if b == nil {
		return 0
	}
	return b.entries
}

// LoadedAt returns when the book was built.
func (b *ValueBook) LoadedAt() time.Time {
	if b == nil {
		return time.Time{}
	}
	return b.loaded
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
