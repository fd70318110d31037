package bridge

import (
	"context"

	"github.com/illmade-knight/httpuploader/pkg/metrics"
	"github.com/illmade-knight/httpuploader/pkg/payload"
)

// startDeliveryPool launches the delivery workers when the bridge is
// configured for pooled delivery.
func (b *Bridge) startDeliveryPool() {
	if b.cfg.DeliveryWorkers <= 0 {
		return
	}
	b.queue = make(chan payload.Message, b.cfg.DeliveryQueueSize)

	b.logger.Info().
		Int("workers", b.cfg.DeliveryWorkers).
		Int("queue_capacity", b.cfg.DeliveryQueueSize).
		Msg("Starting delivery workers")
	for i := 0; i < b.cfg.DeliveryWorkers; i++ {
		b.wg.Add(1)
		go func(workerID int) {
			defer b.wg.Done()
			for msg := range b.queue {
				b.deliver(context.Background(), msg, workerID)
			}
			b.logger.Debug().Int("worker_id", workerID).Msg("Delivery queue closed, worker stopping")
		}(i)
	}
}

// enqueue hands msg to the pool without blocking. A full queue drops the
// message: each message gets at most one delivery attempt and none is retried.
func (b *Bridge) enqueue(topic string, msg payload.Message) {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()

	if b.queueClosed || b.queue == nil {
		b.logger.Warn().Str("topic", topic).Msg("Shutdown in progress, message dropped.")
		return
	}
	select {
	case b.queue <- msg:
	default:
		metrics.DeliveryDroppedTotal.Inc()
		b.logger.Error().
			Str("topic", topic).
			Int("queue_capacity", cap(b.queue)).
			Msg("Delivery queue is full, dropping message")
	}
}

// stopDeliveryPool closes the queue and waits for the workers to drain it.
func (b *Bridge) stopDeliveryPool() {
	b.queueMu.Lock()
	if b.queue == nil || b.queueClosed {
		b.queueMu.Unlock()
		return
	}
	b.queueClosed = true
	close(b.queue)
	b.queueMu.Unlock()

	b.logger.Info().Msg("Waiting for delivery workers to drain the queue...")
	b.wg.Wait()
	b.logger.Info().Msg("All delivery workers have completed.")
}
