// Package cache stores finished trade analyses keyed by a content
// fingerprint of the offer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// Cache is the analysis cache collaborator. A miss is (zero, false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (model.TradeAnalysis, bool, error)
	Set(ctx context.Context, key string, a model.TradeAnalysis, ttl time.Duration) error
}

// Nop never hits. It is used when no cache backend is configured.
type Nop struct{}

// Get implements Cache.
func (Nop) Get(context.Context, string) (model.TradeAnalysis, bool, error) {
	return model.TradeAnalysis{}, false, nil
}

// Set implements Cache.
func (Nop) Set(context.Context, string, model.TradeAnalysis, time.Duration) error { return nil }

type fingerprintInput struct {
	SideA    []string           `json:"a"`
	SideB    []string           `json:"b"`
	Segment  string             `json:"s"`
	Format   model.Format       `json:"f"`
	Dynasty  bool               `json:"d"`
	AsOf     string             `json:"t"`
	Activity float64            `json:"l"`
	Needs    map[string]float64 `json:"n,omitempty"`
}

// Fingerprint hashes everything that influences an analysis except the
// offer ID and creation time. Asset order within a side does not matter.
func Fingerprint(o model.TradeOffer) string {
	in := fingerprintInput{
		SideA:    canonicalSide(o.SideA),
		SideB:    canonicalSide(o.SideB),
		Segment:  o.SegmentKey(),
		Format:   o.Context.Format,
		Dynasty:  o.Context.Dynasty,
		Activity: o.Context.Activity,
		Needs:    o.CounterpartyNeeds,
	}
	if !o.Context.AsOf.IsZero() {
		in.AsOf = o.Context.AsOf.UTC().Format(time.DateOnly)
	}
	// Marshal of plain strings, floats and maps cannot fail.
	b, _ := json.Marshal(in)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalSide(assets []model.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		b, _ := json.Marshal(a)
		out = append(out, string(b))
	}
	sort.Strings(out)
	return out
}

// Key combines a fingerprint with the version of the weights that produced
// the prediction, so a weight update never serves a stale probability.
func Key(fingerprint string, w model.SegmentWeights, source string) string {
	return "analysis:" + fingerprint + ":" + source + ":" + w.UpdatedAt.UTC().Format("20060102T150405.000000000")
}
