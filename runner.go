package primacy

import (
	"context"
	"time"
)

// Start launches the poll loop on its own goroutine and returns
// immediately. The first cycle runs an acquisition attempt right away;
// every PollInterval after that the loop executes due transfers,
// heartbeats or takes over a dead host, and watches for host loss.
//
// Start is not required: callers that drive the coordinator from their
// own scheduler can call TryAcquire, Heartbeat, and
// CheckAndTakeoverIfDead directly.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	c.logger.Info("coordinator starting",
		"identity", c.self.Identity,
		"poll_interval", c.config.PollInterval,
	)

	if res, err := c.TryAcquire(ctx, false); err != nil {
		c.logger.Warn("initial acquisition failed, poll loop will retry", "error", err)
	} else {
		c.logger.Info("initial acquisition done",
			"is_host", res.IsHost,
			"kind", res.Kind,
			"queue_position", res.QueuePosition,
		)
	}

	go c.pollLoop()
	return nil
}

// Stop shuts the poll loop down, releases the host role if held, and
// waits for in-flight notifications. Safe to call when never started.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.runMu.Lock()
	if !c.started {
		c.runMu.Unlock()
		return nil
	}
	c.started = false
	close(c.stopCh)
	doneCh := c.doneCh
	c.runMu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		c.logger.Warn("coordinator shutdown timed out waiting for poll loop")
		return ctx.Err()
	}

	if c.elector.IsActive() {
		if _, err := c.Release(ctx); err != nil {
			c.logger.Error("release on shutdown failed", "error", err)
		}
	}
	c.notifier.Wait()
	c.logger.Info("coordinator stopped", "identity", c.self.Identity)
	return nil
}

// pollLoop runs the periodic coordination cycle until Stop.
func (c *Coordinator) pollLoop() {
	defer close(c.doneCh)

	interval := c.config.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		tookOver, err := c.CheckAndTakeoverIfDead(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("coordination cycle failed", "error", err)
			continue
		}
		if tookOver {
			c.logger.Info("poll loop completed takeover", "identity", c.self.Identity)
		}
	}
}
