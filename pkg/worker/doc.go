// Package worker provides a bounded worker pool for dispatching inbound
// frames to application handlers.
//
// A shard's read loop must never block on application code: an IRC endpoint
// that cannot deliver keepalives will drop the connection. The pool decouples
// the two with a bounded queue and a fixed set of workers. Submit never
// blocks; when the queue is full the item is dropped and counted, which is
// the right trade for chat frames where stale delivery is worse than no
// delivery.
//
// Stop closes the queue and lets the workers drain what was already
// accepted, bounded by a timeout.
//
// Pool is generic over the work item type:
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, frame string) error {
//	    return handle(ctx, frame)
//	})
//	pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//	pool.Submit(frame)
//
// Pass WithMetricsRegistry to export queue depth, throughput and processing
// duration through the shared prometheus registry.
package worker
