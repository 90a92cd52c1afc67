// Package transcript records echo exchanges without slowing down the echo path.
//
// Sessions hand each exchange to Submit, which never blocks. A single worker drains
// the buffer and publishes to the exchange topic when a Producer is configured,
// falling back to a direct Repository insert when publishing fails or no producer
// exists.
package transcript

import (
	"context"
	"errors"
	"sync"

	"echoapp/logger"
	"echoapp/metrics"
	"echoapp/models"
)

var ErrPipelineClosed = errors.New("transcript pipeline closed")

// Producer abstracts Kafka publishing.
type Producer interface {
	Publish(ctx context.Context, ex models.Exchange) error
}

// Repository abstracts exchange persistence.
type Repository interface {
	InsertExchange(ctx context.Context, ex models.Exchange) error
}

type Pipeline struct {
	producer Producer
	repo     Repository
	queue    chan models.Exchange

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New returns a pipeline with the given buffer size. Either sink may be nil; with both
// nil, Submit accepts and discards.
func New(p Producer, r Repository, buffer int) *Pipeline {
	if buffer <= 0 {
		buffer = 1
	}
	return &Pipeline{producer: p, repo: r, queue: make(chan models.Exchange, buffer), done: make(chan struct{})}
}

func (p *Pipeline) Enabled() bool { return p.producer != nil || p.repo != nil }

// Submit enqueues ex. A full buffer drops it (counted, not an error); after Close it
// returns ErrPipelineClosed.
func (p *Pipeline) Submit(ex models.Exchange) error {
	if !p.Enabled() {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.queue <- ex:
		return nil
	default:
		metrics.IncTranscriptDropped()
		logger.Debug("transcript buffer full, exchange dropped", logger.FieldKV("exchange_id", ex.ExchangeID))
		return nil
	}
}

// Run drains the queue until Close is called, then flushes what is left.
// ctx bounds each sink call; cancelling it does not stop the drain.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	for ex := range p.queue {
		p.record(ctx, ex)
	}
}

// Close stops intake and waits for Run to finish flushing, or for ctx to expire.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) record(ctx context.Context, ex models.Exchange) {
	if p.producer != nil {
		err := p.producer.Publish(ctx, ex)
		if err == nil {
			metrics.IncTranscriptRecorded("kafka")
			return
		}
		logger.Error("publish exchange failed", err, logger.FieldKV("exchange_id", ex.ExchangeID))
	}
	if p.repo == nil {
		metrics.IncTranscriptRecorded("failed")
		return
	}
	if err := p.repo.InsertExchange(ctx, ex); err != nil {
		logger.Error("persist exchange failed", err, logger.FieldKV("exchange_id", ex.ExchangeID))
		metrics.IncTranscriptRecorded("failed")
		return
	}
	metrics.IncTranscriptRecorded("direct")
}
