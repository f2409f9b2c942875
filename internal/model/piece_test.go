package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPiece_LeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	by := "userA"

	fresh := NewPiece("col-1", 1, 100)
	assert.False(t, fresh.LeaseExpired(now), "available pieces carry no lease")

	future := now.Add(time.Minute)
	held := fresh
	held.Status = StatusReserved
	held.ReservedBy = &by
	held.ReservedUntil = &future
	assert.False(t, held.LeaseExpired(now))
	assert.True(t, held.LeaseExpired(future), "the deadline itself counts as expired")
	assert.True(t, held.LeaseExpired(future.Add(time.Second)))

	sold := fresh
	sold.Status = StatusSold
	past := now.Add(-time.Minute)
	sold.ReservedUntil = &past
	assert.False(t, sold.LeaseExpired(now), "sold is terminal regardless of old deadlines")
}

func TestPiece_EffectiveStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	by := "userA"

	p := NewPiece("col-1", 1, 100)
	assert.Equal(t, StatusAvailable, p.EffectiveStatus(now))

	future := now.Add(time.Minute)
	p.Status = StatusReserved
	p.ReservedBy = &by
	p.ReservedUntil = &future
	assert.Equal(t, StatusReserved, p.EffectiveStatus(now))
	assert.Equal(t, StatusAvailable, p.EffectiveStatus(future), "a lapsed lease reads as available")

	p.Status = StatusSold
	assert.Equal(t, StatusSold, p.EffectiveStatus(future))
}
