package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

// DailyTable resolves the daily table for dateKey, creating it from the
// template on first use.
func (c *Coordinator) DailyTable(ctx context.Context, dateKey string) (remote.Table, error) {
	c.tablesMu.Lock()
	t, ok := c.tables[dateKey]
	c.tablesMu.Unlock()
	if ok {
		return t, nil
	}

	t, err := connectivity.Invoke(ctx, c.invoker, "ensure daily table", func(ctx context.Context) (remote.Table, error) {
		return c.store.EnsureDailyTable(ctx, dateKey)
	})
	if err != nil {
		return remote.Table{}, fmt.Errorf("failed to resolve daily table %s: %w", dateKey, err)
	}

	c.tablesMu.Lock()
	c.tables[dateKey] = t
	c.tablesMu.Unlock()
	return t, nil
}

func (c *Coordinator) forgetDailyTable(dateKey string, t remote.Table) {
	c.tablesMu.Lock()
	delete(c.tables, dateKey)
	c.tablesMu.Unlock()
	c.cache.Invalidate(t)
	c.config.Logger.Printf("Daily table %s is gone, will recreate", t)
}

// headers returns the header row of t, from cache unless fresh is set.
func (c *Coordinator) headers(ctx context.Context, t remote.Table, fresh bool) ([]string, error) {
	if !fresh {
		if h, ok := c.cache.Headers(t); ok {
			return h, nil
		}
	}
	h, err := connectivity.Invoke(ctx, c.invoker, "get headers", func(ctx context.Context) ([]string, error) {
		return c.store.GetHeaders(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	c.cache.SetHeaders(t, h)
	return h, nil
}

// idColumn finds the ID header, re-reading once if the cached header lacks it.
func (c *Coordinator) idColumn(ctx context.Context, t remote.Table) ([]string, int, error) {
	h, err := c.headers(ctx, t, false)
	if err != nil {
		return nil, 0, err
	}
	if col := remote.IndexOf(h, schema.ColumnID); col >= 0 {
		return h, col, nil
	}
	if h, err = c.headers(ctx, t, true); err != nil {
		return nil, 0, err
	}
	if col := remote.IndexOf(h, schema.ColumnID); col >= 0 {
		return h, col, nil
	}
	return nil, 0, remote.Schema("find id column", fmt.Errorf("%w: %s in %s", remote.ErrHeaderNotFound, schema.ColumnID, t))
}

func (c *Coordinator) allRows(ctx context.Context, t remote.Table) ([][]string, error) {
	return connectivity.Invoke(ctx, c.invoker, "get all rows", func(ctx context.Context) ([][]string, error) {
		return c.store.GetAllRows(ctx, t)
	})
}

// pushTimestamps makes the daily row for id contain every value in events.
// Values already in the row are left alone, so repeating a push writes
// nothing.
func (c *Coordinator) pushTimestamps(ctx context.Context, dateKey, id string, events []string) (err error) {
	t, err := c.DailyTable(ctx, dateKey)
	if err != nil {
		return err
	}
	defer func() {
		// a table deleted remotely is recreated from the template next time
		if errors.Is(err, remote.ErrTableNotFound) {
			c.forgetDailyTable(dateKey, t)
		}
	}()

	headers, idCol, err := c.idColumn(ctx, t)
	if err != nil {
		return err
	}

	// row positions shift under concurrent writers, so rows are never cached
	rows, err := c.allRows(ctx, t)
	if err != nil {
		return err
	}
	if len(rows) > 0 && len(rows[0]) > len(headers) {
		headers = rows[0]
	}

	rowIdx := remote.FindRow(rows, idCol, id)
	if rowIdx < 0 {
		return c.insertDailyRow(ctx, t, headers, idCol, len(rows), id, events)
	}

	row := append([]string(nil), rows[rowIdx]...)
	missing := missingValues(row[idCol+1:], events)
	if len(missing) == 0 {
		return nil
	}

	// the cached header no longer matches once anything is written
	defer c.cache.Invalidate(t)

	for _, ts := range missing {
		col := nextFreeColumn(row, idCol)
		if err := c.invoker.Do(ctx, "set cell", func(ctx context.Context) error {
			return c.store.SetCell(ctx, t, rowIdx, col, ts)
		}); err != nil {
			return fmt.Errorf("failed to write %s for %s: %w", ts, id, err)
		}
		for len(row) <= col {
			row = append(row, "")
		}
		row[col] = ts

		if headers, err = c.extendHeaders(ctx, t, headers, idCol, col); err != nil {
			return err
		}
		c.verifyCell(ctx, t, rowIdx, col, ts)
	}
	return nil
}

func (c *Coordinator) insertDailyRow(ctx context.Context, t remote.Table, headers []string, idCol, at int, id string, events []string) error {
	defer c.cache.Invalidate(t)

	values := make([]string, idCol+1, idCol+1+len(events))
	values[idCol] = id
	values = append(values, events...)

	if err := c.invoker.Do(ctx, "insert row", func(ctx context.Context) error {
		return c.store.InsertRow(ctx, t, at, values)
	}); err != nil {
		return fmt.Errorf("failed to insert row for %s: %w", id, err)
	}

	if _, err := c.extendHeaders(ctx, t, headers, idCol, len(values)-1); err != nil {
		return err
	}

	c.settle(ctx)
	got, err := connectivity.Invoke(ctx, c.invoker, "verify row", func(ctx context.Context) ([]string, error) {
		return c.store.GetRow(ctx, t, at)
	})
	if err != nil {
		c.config.Logger.Printf("Warning: could not verify new row for %s: %v", id, err)
		return nil
	}
	if idCol >= len(got) || got[idCol] != id {
		c.config.Logger.Printf("Warning: verification mismatch for new row %d in %s: got %v", at, t, got)
	}
	return nil
}

// extendHeaders writes Timestamp<N> headers up to and including col.
func (c *Coordinator) extendHeaders(ctx context.Context, t remote.Table, headers []string, idCol, col int) ([]string, error) {
	for k := len(headers); k <= col; k++ {
		name := schema.TimestampColumn(k - idCol)
		if err := c.invoker.Do(ctx, "set header", func(ctx context.Context) error {
			return c.store.SetCell(ctx, t, 0, k, name)
		}); err != nil {
			return headers, fmt.Errorf("failed to add header %s: %w", name, err)
		}
		headers = append(headers, name)
	}
	return headers, nil
}

func (c *Coordinator) settle(ctx context.Context) {
	if c.config.WriteSettle <= 0 {
		return
	}
	timer := c.config.Clock.NewTimer(c.config.WriteSettle, "sync", "settle")
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// verifyCell re-reads a written cell. A mismatch is logged, not returned.
func (c *Coordinator) verifyCell(ctx context.Context, t remote.Table, row, col int, want string) {
	c.settle(ctx)
	got, err := connectivity.Invoke(ctx, c.invoker, "verify cell", func(ctx context.Context) (string, error) {
		return c.store.GetCell(ctx, t, row, col)
	})
	if err != nil {
		c.config.Logger.Printf("Warning: could not verify %s row %d col %d: %v", t, row, col, err)
		return
	}
	if got != want {
		c.config.Logger.Printf("Warning: verification mismatch at %s row %d col %d: wrote %q, read %q", t, row, col, want, got)
	}
}

// nextFreeColumn returns the first empty cell right of idCol, or one past
// the end of the row.
func nextFreeColumn(row []string, idCol int) int {
	for j := idCol + 1; j < len(row); j++ {
		if row[j] == "" {
			return j
		}
	}
	if len(row) <= idCol {
		return idCol + 1
	}
	return len(row)
}

// missingValues returns the values of want not covered by have, counting
// duplicates, in the order of want.
func missingValues(have, want []string) []string {
	counts := make(map[string]int, len(have))
	for _, v := range have {
		if v != "" {
			counts[v]++
		}
	}
	var out []string
	for _, v := range want {
		if counts[v] > 0 {
			counts[v]--
			continue
		}
		out = append(out, v)
	}
	return out
}
