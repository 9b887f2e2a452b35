package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/meeting-processor/internal/core"
	"github.com/target/meeting-processor/internal/domain/model"
)

const defaultWatchBackoff = time.Second

// WatchCancellations follows the status topic and stops local pipeline runs
// of jobs cancelled by another process, such as the admin CLI or a second
// server. It resubscribes after failures and returns nil once ctx ends.
func (p *Processor) WatchCancellations(ctx context.Context, subscriber core.StatusSubscriber) error {
	topic := DefaultUpdatesTopic
	if p.broadcaster != nil {
		topic = p.broadcaster.Topic()
	}
	logger := p.logger.With("topic", topic)

	for ctx.Err() == nil {
		sub, err := subscriber.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() == nil {
				logger.WarnContext(ctx, "cancellation watch subscribe failed", "error", err)
			}
			if !sleepCtx(ctx, p.watchBackoff) {
				return nil
			}
			continue
		}

		err = p.receiveCancellations(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnContext(ctx, "cancellation watch interrupted", "error", err)
		if !sleepCtx(ctx, p.watchBackoff) {
			return nil
		}
	}
	return nil
}

func (p *Processor) receiveCancellations(ctx context.Context, sub core.StatusSubscription) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		var update model.StatusUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			continue
		}
		if update.Status.Stage != model.StageFailed || update.Status.Error != cancelledMessage {
			continue
		}
		id := update.JobID
		if id == "" {
			id = update.Status.ID
		}
		if p.cancelRunning(id, ErrJobCancelled) {
			p.logger.InfoContext(ctx, "stopped job cancelled elsewhere", "job_id", id)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
