package sync

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/remote"
)

// ReplayUnsynced replays every open ledger, oldest day first. It stops at
// the first day that leaves the system offline.
func (c *Coordinator) ReplayUnsynced(ctx context.Context) ([]Report, error) {
	if _, err := c.ledgers.Today(); err != nil {
		return nil, fmt.Errorf("failed to open today's ledger: %w", err)
	}

	var (
		reports []Report
		result  *multierror.Error
	)
	for _, day := range c.ledgers.Days() {
		l, err := c.ledgers.Open(day)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		report, err := c.ReplayLedger(ctx, l)
		reports = append(reports, report)
		if err != nil {
			result = multierror.Append(result, err)
		}
		if !c.monitor.Online() || ctx.Err() != nil {
			break
		}
	}
	return reports, result.ErrorOrNil()
}

// ReplayLedger pushes every unsynced row of l. A pre-sync backup is written
// first and, when every row converged, a synced backup after.
func (c *Coordinator) ReplayLedger(ctx context.Context, l *ledger.Ledger) (Report, error) {
	start := c.config.Clock.Now()
	unsynced := l.Unsynced()
	report := Report{Day: l.DateKey(), Pending: len(unsynced)}
	if len(unsynced) == 0 {
		return report, nil
	}

	if path, err := l.Backup(ledger.SuffixPreSync); err != nil {
		c.config.Logger.Printf("Warning: pre-sync backup failed: %v", err)
	} else {
		c.config.Logger.Printf("Pre-sync backup written to %s", path)
	}
	c.config.Logger.Printf("Replaying %d unsynced rows for %s", len(unsynced), report.Day)

	var result *multierror.Error
	for _, rec := range unsynced {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if !c.monitor.Online() {
			result = multierror.Append(result, remote.ErrOffline)
			break
		}
		if err := c.syncRecord(ctx, l, rec); err != nil {
			c.noteFailure(rec.ID, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", rec.ID, err))
			report.Failed++
			continue
		}
		report.Synced++
	}

	report.Remaining = len(l.Unsynced())
	report.Duration = c.config.Clock.Since(start)
	c.config.Metrics.ObserveReplay(report.Synced, report.Failed)
	c.config.Metrics.SetUnsynced(report.Remaining)

	if result == nil && report.Remaining == 0 {
		if path, err := l.Backup(ledger.SuffixSynced); err != nil {
			c.config.Logger.Printf("Warning: synced backup failed: %v", err)
		} else {
			c.config.Logger.Printf("Synced backup written to %s", path)
		}
	}
	c.config.Logger.Printf("Replay of %s: %d synced, %d failed, %d remaining",
		report.Day, report.Synced, report.Failed, report.Remaining)

	if c.config.OnReplay != nil {
		c.config.OnReplay(report)
	}
	return report, result.ErrorOrNil()
}

// WarmCache prefetches the master snapshot and today's daily headers.
func (c *Coordinator) WarmCache(ctx context.Context, dateKey string) error {
	var result *multierror.Error
	if _, err := c.masterRows(ctx, c.store.MasterTable(), true); err != nil {
		result = multierror.Append(result, fmt.Errorf("master: %w", err))
	}
	if t, err := c.DailyTable(ctx, dateKey); err != nil {
		result = multierror.Append(result, err)
	} else if _, err := c.headers(ctx, t, true); err != nil {
		result = multierror.Append(result, fmt.Errorf("daily headers: %w", err))
	}
	return result.ErrorOrNil()
}
