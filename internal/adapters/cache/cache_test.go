package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tradevalue/internal/domain/model"
)

func offer() model.TradeOffer {
	return model.TradeOffer{
		ID: "offer-1",
		SideA: []model.Asset{
			{Kind: model.KindPlayer, ID: "p1", Position: "WR", Age: 24},
			{Kind: model.KindPick, PickYear: 2026, PickRound: 1, PickSlot: model.SlotMid},
		},
		SideB: []model.Asset{{Kind: model.KindPlayer, ID: "p2", Position: "QB", Age: 27}},
		Context: model.LeagueContext{
			Format:   model.FormatSuperflex,
			Dynasty:  true,
			AsOf:     time.Date(2025, 10, 1, 15, 0, 0, 0, time.UTC),
			Activity: 0.6,
		},
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint(offer())
	assert.Len(t, base, 64)

	t.Run("ignores id, creation time and asset order", func(t *testing.T) {
		o := offer()
		o.ID = "offer-2"
		o.CreatedAt = time.Now()
		o.SideA[0], o.SideA[1] = o.SideA[1], o.SideA[0]
		o.Context.AsOf = o.Context.AsOf.Add(3 * time.Hour)
		assert.Equal(t, base, Fingerprint(o))
	})

	t.Run("changes with anything that moves the analysis", func(t *testing.T) {
		o := offer()
		o.SideA, o.SideB = o.SideB, o.SideA
		assert.NotEqual(t, base, Fingerprint(o))

		o = offer()
		o.Context.Format = model.FormatOneQB
		assert.NotEqual(t, base, Fingerprint(o))

		o = offer()
		o.Context.AsOf = o.Context.AsOf.AddDate(0, 0, 1)
		assert.NotEqual(t, base, Fingerprint(o))

		o = offer()
		o.CounterpartyNeeds = map[string]float64{"QB": 1}
		assert.NotEqual(t, base, Fingerprint(o))
	})

	t.Run("key carries the weights version", func(t *testing.T) {
		w := model.SegmentWeights{UpdatedAt: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)}
		k1 := Key(base, w, model.SourceLearned)
		w.UpdatedAt = w.UpdatedAt.Add(time.Second)
		assert.NotEqual(t, k1, Key(base, w, model.SourceLearned))
		assert.NotEqual(t, k1, Key(base, model.SegmentWeights{}, model.SourceDefault))
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	analysis := model.TradeAnalysis{OfferID: "offer-1", Segment: "dynasty-superflex", Tier: "LEAN_YOU", AcceptanceProbability: 0.31}
	body, err := json.Marshal(analysis)
	require.NoError(t, err)

	t.Run("hit decodes the stored analysis", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCache(db, Config{Prefix: "tv:"})
		mock.ExpectGet("tv:k").SetVal(string(body))

		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, analysis, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss is not an error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCache(db, Config{})
		mock.ExpectGet("k").RedisNil()

		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set stores json with a ttl", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCache(db, Config{Prefix: "tv:"})
		mock.ExpectSet("tv:k", body, 10*time.Minute).SetVal("OK")

		require.NoError(t, c.Set(ctx, "k", analysis, 10*time.Minute))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated failures open the breaker", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewRedisCache(db, Config{})
		for i := 0; i < 5; i++ {
			mock.ExpectGet("k").SetErr(redis.TxFailedErr)
		}
		for i := 0; i < 5; i++ {
			_, _, err := c.Get(ctx, "k")
			assert.Error(t, err)
		}

		_, _, err := c.Get(ctx, "k")
		assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
		assert.Equal(t, gobreaker.StateOpen.String(), c.State())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	_, ok, err := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, c.Set(context.Background(), "k", model.TradeAnalysis{}, time.Minute))
}
