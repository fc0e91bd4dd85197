package task

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tripzi-app/calling/pkg/logger"
	"github.com/tripzi-app/calling/pkg/signaling"
	"go.uber.org/zap"
)

// StartRingSweeper starts the scheduled task that expires ringing calls
// nobody answered. A ringing record older than ringTimeout transitions to
// ended with the ring_timeout reason, so an abandoned call can never ring
// forever. Returns the cron runner so the caller can stop it on shutdown.
func StartRingSweeper(channel *signaling.Channel, schedule string, ringTimeout time.Duration) *cron.Cron {
	sweep := func() {
		cutoff := time.Now().Add(-ringTimeout)
		n, err := channel.ExpireRinging(context.Background(), cutoff)
		if err != nil {
			logger.Error("Ring sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("Ring sweep expired stale calls", zap.Int64("count", n))
		}
	}

	// Execute a sweep immediately at startup
	logger.Info("Executing ring sweep at startup")
	sweep()

	c := cron.New()
	_, err := c.AddFunc(schedule, sweep)
	if err != nil {
		logger.Error("Failed to add ring sweeper cron job", zap.Error(err))
		return c
	}
	c.Start()

	logger.Info("Ring sweeper started",
		zap.String("schedule", schedule),
		zap.Duration("ringTimeout", ringTimeout))
	return c
}
