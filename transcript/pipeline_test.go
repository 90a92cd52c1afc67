package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"echoapp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (m *mockProducer) Publish(_ context.Context, ex models.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, ex.ExchangeID)
	return nil
}

type mockRepo struct {
	mu     sync.Mutex
	err    error
	stored []string
}

func (m *mockRepo) InsertExchange(_ context.Context, ex models.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, ex.ExchangeID)
	return nil
}

func run(t *testing.T, p *Pipeline, ids ...string) {
	t.Helper()
	go p.Run(context.Background())
	for _, id := range ids {
		require.NoError(t, p.Submit(models.Exchange{ExchangeID: id}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
}

func TestPublishesToProducer(t *testing.T) {
	prod, repo := &mockProducer{}, &mockRepo{}
	run(t, New(prod, repo, 8), "a", "b", "c")

	assert.Equal(t, []string{"a", "b", "c"}, prod.sent)
	assert.Empty(t, repo.stored)
}

func TestFallsBackToRepositoryOnPublishFailure(t *testing.T) {
	prod, repo := &mockProducer{err: errors.New("broker down")}, &mockRepo{}
	run(t, New(prod, repo, 8), "a", "b")

	assert.Empty(t, prod.sent)
	assert.Equal(t, []string{"a", "b"}, repo.stored)
}

func TestRepositoryOnly(t *testing.T) {
	repo := &mockRepo{}
	run(t, New(nil, repo, 8), "a")
	assert.Equal(t, []string{"a"}, repo.stored)
}

func TestDisabledPipelineAcceptsAndDiscards(t *testing.T) {
	p := New(nil, nil, 1)
	assert.False(t, p.Enabled())
	for i := 0; i < 10; i++ {
		assert.NoError(t, p.Submit(models.Exchange{ExchangeID: "x"}))
	}
}

func TestSubmitNeverBlocksWhenFull(t *testing.T) {
	p := New(nil, &mockRepo{}, 1)
	// No worker running: the second and third submissions are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			_ = p.Submit(models.Exchange{ExchangeID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full buffer")
	}
	assert.Len(t, p.queue, 1)
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(nil, &mockRepo{}, 4)
	go p.Run(context.Background())
	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.Submit(models.Exchange{ExchangeID: "late"}), ErrPipelineClosed)
	// Closing twice is harmless.
	require.NoError(t, p.Close(context.Background()))
}
