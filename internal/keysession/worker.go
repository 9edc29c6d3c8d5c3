package keysession

import (
	"context"
	"time"

	"github.com/exmg/keysync/internal/keyqueue"
)

// publishRetryBudget is the fixed retry budget the Polling Worker hands
// each MQTT publish.
const publishRetryBudget = 3

// runWorker is the Polling Worker loop: on every wake (poll tick or queue
// push notification) it computes the current media time, peeks the queue
// head under its single lock, and pops it only if the publish delay has
// elapsed — never more than one item per wake.
func (s *Session) runWorker(ctx context.Context) {
	defer close(s.workerDone)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.queue.NotifyChan():
			s.tick(ctx)
		}
	}
}

// tick performs at most one pop-and-dispatch, per the worker's "at most
// one item per tick" policy.
func (s *Session) tick(ctx context.Context) {
	fragStart := s.lastFragStart.Load()
	timescale := s.lastTimescale.Load()
	if timescale == 0 {
		return
	}
	nowSecs := float64(fragStart) / float64(timescale)

	item, ok := s.queue.PeekAndMaybePop(func(head keyqueue.Item) bool {
		diff := nowSecs - float64(head.MediaTime)/float64(timescale)
		return diff >= s.cfg.PublishDelaySecs
	})
	if !ok {
		return
	}

	s.dispatch(ctx, item)
}

// dispatch delivers one popped item to the session's configured
// destinations.
func (s *Session) dispatch(ctx context.Context, item keyqueue.Item) {
	if s.cfg.DryRun {
		s.logger.Info("dry run: would publish key-message", "media_time", item.MediaTime, "bytes", len(item.MessageBytes))
		return
	}

	if s.sink != nil {
		mediaTimeSecs := float64(item.MediaTime) / float64(s.lastTimescale.Load())
		s.sink.Write(item.TrackID, item.CodecType, mediaTimeSecs, item.ScopeID, item.MessageBytes)
	}

	if s.mqtt != nil {
		if err := s.mqtt.Publish(ctx, item.MessageBytes, publishRetryBudget); err != nil {
			s.logger.Warn("failed to publish key-message to MQTT after retries", "error", err, "media_time", item.MediaTime)
		}
	}
}
