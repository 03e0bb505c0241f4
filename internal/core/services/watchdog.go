// Package services contains core business logic services
// Following Hexagonal Architecture: Core layer is independent of infrastructure
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"chatwoot-relay/internal/core/ports"
	"chatwoot-relay/internal/metrics"
)

const purgeBatchSize = 1000

// WatchdogConfig controls the auto-purge loop
type WatchdogConfig struct {
	Interval      time.Duration
	DiskThreshold float64 // percent used that triggers a purge
	Retention     time.Duration
	Path          string // filesystem checked for usage
}

// DiskUsageFunc returns the used percentage of the filesystem at path
type DiskUsageFunc func(ctx context.Context, path string) (float64, error)

// Watchdog purges processed webhook logs when the disk fills up
type Watchdog struct {
	webhooks  ports.WebhookRepository
	cfg       WatchdogConfig
	diskUsage DiskUsageFunc
	now       func() time.Time
}

func NewWatchdog(webhooks ports.WebhookRepository, cfg WatchdogConfig) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = 70
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Watchdog{
		webhooks:  webhooks,
		cfg:       cfg,
		diskUsage: hostDiskUsage,
		now:       time.Now,
	}
}

func hostDiskUsage(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// Run checks the disk every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Watchdog started",
		"interval", w.cfg.Interval,
		"threshold_percent", w.cfg.DiskThreshold,
		"retention", w.cfg.Retention,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				slog.Error("Watchdog check failed", "error", err)
			}
		}
	}
}

// Check runs one resource check and returns how many logs were purged.
// Only processed and skipped logs older than the retention window are removed.
func (w *Watchdog) Check(ctx context.Context) (int64, error) {
	used, err := w.diskUsage(ctx, w.cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("read disk usage: %w", err)
	}
	if used < w.cfg.DiskThreshold {
		slog.Debug("Disk usage OK, no purge needed", "used_percent", used)
		return 0, nil
	}

	slog.Warn("Disk usage above threshold, purging webhook logs",
		"used_percent", used,
		"threshold_percent", w.cfg.DiskThreshold,
	)

	cutoff := w.now().Add(-w.cfg.Retention)
	var total int64
	for {
		n, err := w.webhooks.PurgeProcessed(ctx, cutoff, purgeBatchSize)
		if err != nil {
			metrics.RecordPurge(total)
			return total, fmt.Errorf("purge webhook logs: %w", err)
		}
		total += n
		if n < purgeBatchSize || ctx.Err() != nil {
			break
		}
	}

	metrics.RecordPurge(total)
	slog.Info("Purged old webhook logs", "count", total, "older_than", cutoff)
	return total, nil
}
