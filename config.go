package primacy

import (
	"time"

	"github.com/xraph/primacy/host"
)

// Config holds the timing profile of a Coordinator. Every knob here is a
// property of the chosen store's quota regime or of the deployment, not of
// the algorithm; the defaults match a store throttling at hosted-spreadsheet
// rates.
type Config struct {
	// HeartbeatInterval is how often an active holder refreshes its
	// heartbeat cell.
	HeartbeatInterval time.Duration

	// HostDeadTimeout is the heartbeat age past which the holder is
	// considered dead and eligible for takeover.
	HostDeadTimeout time.Duration

	// OfflineTimeout is the heartbeat age past which a queued candidate is
	// considered offline and eligible for cleanup.
	OfflineTimeout time.Duration

	// CleanupInterval throttles the heavy queue scrub during acquisition.
	CleanupInterval time.Duration

	// PollInterval is how often the poll loop runs takeover/transfer/
	// heartbeat checks.
	PollInterval time.Duration

	// CacheTTL is how long cached control-table reads stay fresh.
	CacheTTL time.Duration

	// MaxCooldown caps the quota cooldown window.
	MaxCooldown time.Duration

	// RetryBudget is the number of attempts per store call.
	RetryBudget int

	// TransferAttempts bounds candidate resolution during a handover.
	TransferAttempts int

	// TransferRetryPause is the wait between handover attempts.
	TransferRetryPause time.Duration

	// MinScheduleLead is the shortest allowed transfer scheduling horizon.
	MinScheduleLead time.Duration

	// EnsureTTL is how often sheet/header existence is re-verified.
	EnsureTTL time.Duration

	// NotifyTimeout bounds each notification delivery.
	NotifyTimeout time.Duration
}

// DefaultConfig returns a Config with the stock timing profile.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  60 * time.Second,
		HostDeadTimeout:    90 * time.Second,
		OfflineTimeout:     180 * time.Second,
		CleanupInterval:    60 * time.Second,
		PollInterval:       12 * time.Second,
		CacheTTL:           30 * time.Second,
		MaxCooldown:        2 * time.Minute,
		RetryBudget:        3,
		TransferAttempts:   3,
		TransferRetryPause: 2 * time.Second,
		MinScheduleLead:    time.Minute,
		EnsureTTL:          10 * time.Minute,
		NotifyTimeout:      10 * time.Second,
	}
}

// timings projects the Config onto the host package's timing profile.
func (c Config) timings() host.Timings {
	return host.Timings{
		HostDeadTimeout:    c.HostDeadTimeout,
		OfflineTimeout:     c.OfflineTimeout,
		CleanupInterval:    c.CleanupInterval,
		TransferAttempts:   c.TransferAttempts,
		TransferRetryPause: c.TransferRetryPause,
		MinScheduleLead:    c.MinScheduleLead,
	}
}
