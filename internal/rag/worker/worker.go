// Package worker consumes the ingestion queue and drives the pipeline.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/rag/biz"
	"github.com/kart-io/lexica/internal/rag/queue"
	"github.com/kart-io/lexica/internal/rag/store"
	"github.com/kart-io/lexica/pkg/pool"
)

// dequeueWait bounds one blocking poll, so shutdown is observed promptly.
const dequeueWait = 2 * time.Second

// Worker pulls document IDs off the queue and runs ingestion on a bounded
// worker pool. Processing failures are settled by the pipeline itself (the
// document is marked failed); the worker only keeps consuming.
type Worker struct {
	queue    queue.Queue
	docs     store.DocumentStore
	ingestor *biz.Ingestor
	pool     *pool.Pool

	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a Worker with its own pool of concurrency workers.
func New(q queue.Queue, docs store.DocumentStore, ingestor *biz.Ingestor, concurrency int) (*Worker, error) {
	p, err := pool.New("ingest", &pool.Config{
		Capacity:       concurrency,
		ExpiryDuration: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Worker{queue: q, docs: docs, ingestor: ingestor, pool: p}, nil
}

// Recover re-enqueues documents whose queue delivery was lost to a crash or
// shutdown: pending documents with no job in flight, and processing
// documents whose attempt died mid-run. Call once before Start.
func (w *Worker) Recover(ctx context.Context, staleAfter time.Duration) error {
	ids, err := w.docs.RecoverInterrupted(ctx, staleAfter)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.queue.Enqueue(ctx, id); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		logger.Infow("re-enqueued interrupted documents", "count", len(ids))
	}
	return nil
}

// Start launches the consumer loop. It returns immediately; the loop runs
// until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consume(ctx)
	}()
	logger.Infow("ingestion worker started", "concurrency", w.pool.Stats().Capacity)
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		documentID, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnw("failed to dequeue ingestion job", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if documentID == "" {
			continue
		}

		w.inflight.Add(1)
		id := documentID
		if err := w.pool.Submit(func() {
			defer w.inflight.Done()
			// Errors are already settled against the document status.
			_ = w.ingestor.Process(ctx, id)
		}); err != nil {
			w.inflight.Done()
			logger.Errorw("failed to submit ingestion job", "document_id", id, "error", err.Error())
		}
	}
}

// Stop waits for the consumer loop and in-flight jobs, bounded by timeout,
// then releases the pool. Call after cancelling the Start context.
func (w *Worker) Stop(timeout time.Duration) {
	w.wg.Wait()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warnw("ingestion jobs still running at shutdown", "timeout", timeout.String())
	}

	if err := w.pool.Release(timeout); err != nil {
		logger.Warnw("failed to release ingestion pool", "error", err.Error())
	}
	logger.Infow("ingestion worker stopped")
}
