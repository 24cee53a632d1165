package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// batcher buffers records and hands them to flush in batches from a single
// background goroutine.
type batcher struct {
	name    string
	buffer  chan *DecisionRecord
	done    chan struct{}
	flushed chan struct{} // closed by loop when it returns
	flush   func([]*DecisionRecord)
	logger  *zap.Logger
}

func newBatcher(name string, flush func([]*DecisionRecord), logger *zap.Logger) *batcher {
	b := &batcher{
		name:    name,
		buffer:  make(chan *DecisionRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		flush:   flush,
		logger:  logger,
	}
	go b.loop()
	return b
}

// write queues a record. Non-blocking: drops the record if the buffer is full.
func (b *batcher) write(rec *DecisionRecord) {
	select {
	case b.buffer <- rec:
	default:
		b.logger.Warn(b.name+" buffer full, dropping record",
			zap.String("request_id", rec.RequestID),
		)
	}
}

// close signals the loop to drain remaining records and waits for it.
func (b *batcher) close() {
	close(b.done)
	<-b.flushed
}

func (b *batcher) loop() {
	defer close(b.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*DecisionRecord, 0, flushBatch)

	for {
		select {
		case rec := <-b.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-b.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-b.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				b.flush(batch)
			}
			return
		}
	}
}
