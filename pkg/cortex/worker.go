package cortex

import (
	"context"
	"errors"
	"time"

	"github.com/evermem/evermem/pkg/errcode"
	"github.com/evermem/evermem/pkg/queue"
)

// EnqueueMemorize queues a memorize request for background processing
// instead of running the pipeline inline. The request is scored by its
// newest message timestamp so a worker picks up conversations in the order
// they last moved. It reports whether the request was stored; on rejection
// the reason follows [queue.Queue.Deliver].
func (s *Service) EnqueueMemorize(ctx context.Context, req MemorizeRequest) (bool, errcode.Key) {
	if s.queue == nil {
		s.logger.Warn("memorize not enqueued, no queue configured", "group_id", req.GroupID)
		return false, errcode.KeyDeliveryError
	}
	if req.GroupID == "" || len(req.Messages) == 0 {
		s.logger.Warn("memorize not enqueued, empty request", "group_id", req.GroupID)
		return false, errcode.KeyDeliveryError
	}
	var at time.Time
	for _, m := range req.Messages {
		if m.Timestamp.After(at) {
			at = m.Timestamp
		}
	}
	if at.IsZero() {
		at = time.Now().In(s.tz)
	}
	return s.queue.Deliver(ctx, req.GroupID, req, at)
}

// Worker consumes queued memorize requests until ctx is cancelled, then
// hands its partitions back and returns nil. Each message runs the same
// pipeline as [Service.DeliverMemorize]; failures are logged, not retried.
func (s *Service) Worker(ctx context.Context) error {
	if s.queue == nil {
		return errcode.New(errcode.InvalidParameter, "cortex: no queue configured")
	}
	c := s.queue.NewConsumer(queue.ConsumerConfig{OwnerPrefix: "cortex"})
	if err := c.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("memorize worker started", "owner_id", c.OwnerID())

	for {
		select {
		case <-ctx.Done():
			stop, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Shutdown(stop); err != nil {
				s.logger.Warn("worker shutdown", "error", err)
			}
			s.logger.Info("memorize worker stopped", "owner_id", c.OwnerID())
			return nil
		default:
		}

		msgs, err := c.Messages(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrShutdown) {
				return nil
			}
			if ctx.Err() != nil {
				continue
			}
			s.logger.Warn("worker fetch failed", "error", err)
			sleepCtx(ctx, s.poll)
			continue
		}
		if len(msgs) == 0 {
			sleepCtx(ctx, s.poll)
			continue
		}
		for _, m := range msgs {
			s.handleMessage(ctx, m)
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, m queue.Message) {
	var req MemorizeRequest
	if err := decodePayload(m.Payload, &req); err != nil {
		s.logger.Warn("worker skipping undecodable message", "id", m.ID, "error", err)
		return
	}
	if _, err := s.DeliverMemorize(ctx, req); err != nil {
		s.logger.Warn("queued memorize failed",
			"id", m.ID, "group_id", req.GroupID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
