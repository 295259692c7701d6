// Package systemd reports daemon readiness and liveness to the service
// manager over the sd_notify protocol. Every call is a no-op when the
// process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends service state notifications.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Ready tells the service manager that startup finished.
func (n *Notifier) Ready() bool {
	return n.notify(daemon.SdNotifyReady)
}

// Stopping tells the service manager that shutdown began.
func (n *Notifier) Stopping() bool {
	return n.notify(daemon.SdNotifyStopping)
}

// Status publishes a free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the service manager at half the configured watchdog
// interval for as long as healthy reports true and ctx is live. It returns
// immediately when the watchdog is not enabled for this process.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Watchdog configuration invalid", "error", err)
		return
	}
	if interval == 0 {
		return
	}
	n.runWatchdog(ctx, interval/2, healthy)
}

func (n *Notifier) runWatchdog(ctx context.Context, period time.Duration, healthy func() bool) {
	n.logger.Debug("Watchdog enabled", "period", period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if healthy != nil && !healthy() {
				n.logger.Warn("Skipping watchdog ping, service unhealthy")
				continue
			}
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
