package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestStatusOrdering(t *testing.T) {
	t.Run("forward sequence is strictly increasing", func(t *testing.T) {
		prev := StatusAwaitingPickup
		for _, s := range []Status{
			StatusReceived, StatusProcessing, StatusProcessed, StatusGrouped,
			StatusShipped, StatusInTransit, StatusArrived, StatusDelivered,
		} {
			assert.Greater(t, s.Rank(), prev.Rank(), "%s should rank above %s", s, prev)
			prev = s
		}
	})

	t.Run("exception has no rank", func(t *testing.T) {
		assert.Equal(t, -1, StatusException.Rank())
		assert.True(t, StatusException.Valid())
	})

	t.Run("unknown status is invalid", func(t *testing.T) {
		assert.False(t, Status("lost").Valid())
		assert.Equal(t, -1, Status("lost").Rank())
	})
}

func TestStatusNext(t *testing.T) {
	next, ok := StatusProcessed.Next()
	require.True(t, ok)
	assert.Equal(t, StatusGrouped, next)

	_, ok = StatusDelivered.Next()
	assert.False(t, ok, "delivered is terminal")

	_, ok = StatusException.Next()
	assert.False(t, ok, "exception is outside the forward sequence")
}

func TestCanAdvanceTo(t *testing.T) {
	t.Run("immediate successor allowed", func(t *testing.T) {
		assert.True(t, StatusArrived.CanAdvanceTo(StatusDelivered))
		assert.True(t, StatusAwaitingPickup.CanAdvanceTo(StatusReceived))
	})

	t.Run("skipping a state rejected", func(t *testing.T) {
		assert.False(t, StatusReceived.CanAdvanceTo(StatusProcessed))
		assert.False(t, StatusProcessed.CanAdvanceTo(StatusArrived))
	})

	t.Run("backward rejected", func(t *testing.T) {
		assert.False(t, StatusShipped.CanAdvanceTo(StatusGrouped))
		assert.False(t, StatusDelivered.CanAdvanceTo(StatusArrived))
	})

	t.Run("same state rejected", func(t *testing.T) {
		assert.False(t, StatusArrived.CanAdvanceTo(StatusArrived))
	})
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in_transit")
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, s)

	_, err = ParseStatus("teleported")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
