package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCanTransition(t *testing.T) {
	allowed := map[SwapStatus][]SwapStatus{
		SwapPending:  {SwapAccepted, SwapDeclined, SwapCancelled},
		SwapAccepted: {SwapCompleted, SwapCancelled},
	}
	all := []SwapStatus{SwapPending, SwapAccepted, SwapDeclined, SwapCompleted, SwapCancelled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalAndLive(t *testing.T) {
	for _, s := range []SwapStatus{SwapDeclined, SwapCompleted, SwapCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.Live(), s)
	}
	for _, s := range LiveSwapStatuses {
		assert.True(t, s.Live(), s)
		assert.False(t, s.Terminal(), s)
	}
}

func TestSwapExpiryIsLazy(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Swap{Status: SwapPending, ExpiresAt: created.Add(DefaultSwapTTL)}

	assert.False(t, s.IsExpired(created))
	assert.False(t, s.IsExpired(s.ExpiresAt.Add(-time.Nanosecond)))
	assert.True(t, s.IsExpired(s.ExpiresAt))
	assert.True(t, s.View(s.ExpiresAt).IsExpired)

	s.Status = SwapAccepted
	assert.False(t, s.View(s.ExpiresAt.Add(time.Hour)).IsExpired, "only pending swaps report expiry")
	assert.Equal(t, SwapAccepted, s.Status)
}

func TestSwapParties(t *testing.T) {
	req, owner := primitive.NewObjectID(), primitive.NewObjectID()
	s := &Swap{Requester: req, Owner: owner}
	assert.True(t, s.HasParty(req))
	assert.True(t, s.HasParty(owner))
	assert.False(t, s.HasParty(primitive.NewObjectID()))
	assert.Equal(t, owner, s.Counterpart(req))
	assert.Equal(t, req, s.Counterpart(owner))
	assert.True(t, s.Counterpart(primitive.NewObjectID()).IsZero())
}

func TestRatingSummaryAverage(t *testing.T) {
	assert.Equal(t, 0.0, RatingSummary{}.Average())
	assert.Equal(t, 4.0, RatingSummary{Sum: 4, Count: 1}.Average())
	assert.Equal(t, 3.7, RatingSummary{Sum: 11, Count: 3}.Average())
	assert.Equal(t, 4.3, RatingSummary{Sum: 13, Count: 3}.Average())
}

func TestPageNormalizeAndPagination(t *testing.T) {
	p := Page{}.Normalize()
	assert.Equal(t, Page{Number: 1, Limit: DefaultPageLimit}, p)
	assert.Equal(t, MaxPageLimit, Page{Number: 2, Limit: 500}.Normalize().Limit)
	assert.Equal(t, int64(24), Page{Number: 3, Limit: 12}.Skip())

	pg := NewPagination(Page{Number: 2, Limit: 10}, 31)
	assert.Equal(t, int64(4), pg.TotalPages)
	assert.Equal(t, 2, pg.Page)
}
