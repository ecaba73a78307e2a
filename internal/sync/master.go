package sync

import (
	"context"
	"fmt"

	"github.com/rollcall-dev/rollcall/internal/connectivity"
	"github.com/rollcall-dev/rollcall/internal/remote"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

// masterRows returns the master snapshot, from cache unless fresh is set.
func (c *Coordinator) masterRows(ctx context.Context, t remote.Table, fresh bool) ([][]string, error) {
	if !fresh {
		if rows, ok := c.cache.Rows(t); ok {
			return rows, nil
		}
	}
	rows, err := c.allRows(ctx, t)
	if err != nil {
		return nil, err
	}
	c.cache.SetRows(t, rows)
	return rows, nil
}

type masterPosition struct {
	rows    [][]string
	idCol   int
	dateCol int
	row     int
}

func locate(rows [][]string, id, dateKey string) masterPosition {
	p := masterPosition{rows: rows, idCol: -1, dateCol: -1, row: -1}
	if len(rows) == 0 {
		return p
	}
	p.idCol = remote.IndexOf(rows[0], schema.ColumnID)
	p.dateCol = remote.IndexOf(rows[0], dateKey)
	if p.idCol >= 0 {
		p.row = remote.FindRow(rows, p.idCol, id)
	}
	return p
}

func (p masterPosition) complete() bool {
	return p.idCol >= 0 && p.dateCol >= 0 && p.row >= 0
}

// findInMaster locates id and dateKey and returns the live roster row. It
// refetches once when the cached snapshot misses either, or when the cached
// row no longer holds id.
func (c *Coordinator) findInMaster(ctx context.Context, t remote.Table, id, dateKey string) (masterPosition, []string, error) {
	for fresh := false; ; fresh = true {
		rows, err := c.masterRows(ctx, t, fresh)
		if err != nil {
			return masterPosition{}, nil, err
		}
		pos := locate(rows, id, dateKey)
		if !pos.complete() {
			if fresh {
				return pos, nil, nil
			}
			// a column or row created moments ago may be missing from the cache
			continue
		}

		// rows shift under operator edits and other stations' enrolls
		live, err := connectivity.Invoke(ctx, c.invoker, "get row", func(ctx context.Context) ([]string, error) {
			return c.store.GetRow(ctx, t, pos.row)
		})
		if err != nil {
			return masterPosition{}, nil, err
		}
		if cellAt(live, pos.idCol) == id {
			return pos, live, nil
		}
		c.cache.Invalidate(t)
		if fresh {
			// left unsynced for the next replay
			return masterPosition{}, nil, remote.Schema("mark present", fmt.Errorf("%w: %s moved in %s", remote.ErrRowNotFound, id, t))
		}
		c.config.Logger.Printf("Master row %d no longer holds %s, refreshing", pos.row, id)
	}
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// MarkPresentInMaster sets the master cell for id and dateKey to Present
// unless it already holds a value. A missing date column or roster row is
// reported as a schema error; with AutoEnroll a missing row is inserted.
func (c *Coordinator) MarkPresentInMaster(ctx context.Context, id, dateKey string) error {
	t := c.store.MasterTable()

	pos, live, err := c.findInMaster(ctx, t, id, dateKey)
	if err != nil {
		return err
	}

	switch {
	case pos.idCol < 0:
		return remote.Schema("mark present", fmt.Errorf("%w: %s in %s", remote.ErrHeaderNotFound, schema.ColumnID, t))
	case pos.dateCol < 0:
		return remote.Schema("mark present", fmt.Errorf("%w: %s in %s", remote.ErrColumnNotFound, dateKey, t))
	case pos.row < 0 && !c.config.AutoEnroll:
		return remote.Schema("mark present", fmt.Errorf("%w: %s in %s", remote.ErrRowNotFound, id, t))
	case pos.row < 0:
		if pos.row, err = c.enroll(ctx, t, pos, id); err != nil {
			return err
		}
	}

	if current := cellAt(live, pos.dateCol); current != "" {
		c.cache.UpdateCell(t, pos.row, pos.dateCol, current)
		return nil
	}

	if err := c.invoker.Do(ctx, "mark present", func(ctx context.Context) error {
		return c.store.SetCell(ctx, t, pos.row, pos.dateCol, schema.PresentMarker)
	}); err != nil {
		return fmt.Errorf("failed to mark %s present on %s: %w", id, dateKey, err)
	}
	c.cache.UpdateCell(t, pos.row, pos.dateCol, schema.PresentMarker)
	c.config.Logger.Printf("Marked %s present on %s", id, dateKey)
	return nil
}

// enroll appends a roster row for id and returns its index.
func (c *Coordinator) enroll(ctx context.Context, t remote.Table, pos masterPosition, id string) (int, error) {
	at := len(pos.rows)
	values := make([]string, pos.idCol+1)
	values[pos.idCol] = id

	if err := c.invoker.Do(ctx, "enroll", func(ctx context.Context) error {
		return c.store.InsertRow(ctx, t, at, values)
	}); err != nil {
		return -1, fmt.Errorf("failed to enroll %s: %w", id, err)
	}
	c.cache.Invalidate(t)
	c.config.Logger.Printf("Enrolled %s in %s", id, t)
	return at, nil
}
