package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeJSONFieldNames(t *testing.T) {
	ex := Exchange{
		ExchangeID:   "e1",
		ConnectionID: "c1",
		Mode:         ModeText,
		Received:     "hi",
		Reply:        "You said: hi",
		Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	b, err := json.Marshal(ex)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"exchange_id", "connection_id", "mode", "received", "reply", "timestamp"} {
		assert.Contains(t, raw, k)
	}
}

func TestEnvelopeOmitsEmptyMessageID(t *testing.T) {
	b, err := json.Marshal(Envelope{Content: "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "message_id")
}
