package store

import (
	"context"
	"testing"
	"time"

	"echoapp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These cover guard paths only; exercising real queries needs a running MongoDB.

func TestPingWithoutOpen(t *testing.T) {
	var s Store
	assert.ErrorIs(t, s.Ping(context.Background()), ErrNotInitialized)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Ping(context.Background()), ErrNotInitialized)
	_, err := s.RecentExchanges(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInsertExchangeWithoutOpen(t *testing.T) {
	var s Store
	assert.ErrorIs(t, s.InsertExchange(context.Background(), dummyExchange()), ErrNotInitialized)
}

func TestRecentExchangesNonPositiveLimit(t *testing.T) {
	var s Store
	for _, limit := range []int{0, -1, -100} {
		list, err := s.RecentExchanges(context.Background(), limit)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
}

func TestOpenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := Open(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "echoapp_test")
	require.Error(t, err)
}

func dummyExchange() models.Exchange {
	return models.Exchange{ExchangeID: "test-id", ConnectionID: "c", Mode: models.ModeText, Received: "hi", Reply: "You said: hi"}
}
