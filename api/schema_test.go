package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidator(t *testing.T) {
	v, err := NewEnvelopeValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate([]byte(`{"content":"hi"}`)))
	assert.NoError(t, v.Validate([]byte(`{"content":"","message_id":"abc"}`)))
	assert.NoError(t, v.Validate([]byte(`{"content":"x","message_id":""}`)))
	assert.NoError(t, v.Validate([]byte(`{"content":"x","timestamp":"2024-01-02T03:04:05Z"}`)))

	assert.Error(t, v.Validate([]byte(`{}`)))
	assert.Error(t, v.Validate([]byte(`{"content":1}`)))
	assert.Error(t, v.Validate([]byte(`{"content":"x","extra":true}`)))
	assert.Error(t, v.Validate([]byte(`[1,2]`)))
	assert.Error(t, v.Validate([]byte(`nope`)))
}
