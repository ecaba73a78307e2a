package remote

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMasterName and DefaultTemplateName match the sheet names used in
// production spreadsheets.
const (
	DefaultMasterName   = "Master"
	DefaultTemplateName = "Temp"
)

// MemStore is an in-memory Store used by tests, the load generator and the
// "memory" backend. It supports fault injection through FailNext and
// SetReachable.
//
// Example:
//
//	store := remote.NewMemStore()
//	store.Seed(remote.DefaultMasterName, [][]string{{"ID", "3/7/2026"}, {"A123"}})
//	store.FailNext(3, nil) // next three calls fail transiently
type MemStore struct {
	mu        sync.Mutex
	tables    map[string][][]string
	master    string
	template  string
	reachable bool
	failures  []error
	calls     int
	writes    int
	connects  int
	created   int
}

// NewMemStore returns a reachable store holding an empty master table with
// an ID header.
func NewMemStore() *MemStore {
	return &MemStore{
		tables: map[string][][]string{
			DefaultMasterName: {{"ID"}},
		},
		master:    DefaultMasterName,
		template:  DefaultTemplateName,
		reachable: true,
	}
}

// Seed replaces the contents of a table.
func (m *MemStore) Seed(name string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = CloneRows(rows)
}

// Drop removes a table.
func (m *MemStore) Drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, name)
}

// Snapshot returns a copy of a table, or nil if it does not exist.
func (m *MemStore) Snapshot(name string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneRows(m.tables[name])
}

// FailNext makes the next n calls fail with err. A nil err injects a
// transient ErrUnreachable.
func (m *MemStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = Transient("injected", ErrUnreachable)
	}
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// SetReachable toggles a persistent outage.
func (m *MemStore) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = ok
}

// Calls returns the number of data calls attempted, including failed ones.
func (m *MemStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Writes returns the number of successful SetCell and InsertRow calls.
func (m *MemStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Connects returns the number of successful Connect calls.
func (m *MemStore) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// TablesCreated returns how many daily tables were created from the template.
func (m *MemStore) TablesCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

// Connect implements Connector.
func (m *MemStore) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "connect"); err != nil {
		return err
	}
	m.connects++
	return nil
}

// enterLocked counts a call and returns any injected failure.
func (m *MemStore) enterLocked(ctx context.Context, op string) error {
	m.calls++
	if err := ctx.Err(); err != nil {
		if IsCanceled(err) {
			return Fatal(op, err)
		}
		return Transient(op, err)
	}
	if !m.reachable {
		return Transient(op, ErrUnreachable)
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	return nil
}

func (m *MemStore) tableLocked(op string, t Table) ([][]string, error) {
	rows, ok := m.tables[t.Name]
	if !ok {
		return nil, Schema(op, fmt.Errorf("%w: %s", ErrTableNotFound, t))
	}
	return rows, nil
}

func (m *MemStore) GetHeaders(ctx context.Context, t Table) ([]string, error) {
	row, err := m.GetRow(ctx, t, 0)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (m *MemStore) GetAllRows(ctx context.Context, t Table) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "get all rows"); err != nil {
		return nil, err
	}
	rows, err := m.tableLocked("get all rows", t)
	if err != nil {
		return nil, err
	}
	out := CloneRows(rows)
	for i := range out {
		out[i] = TrimRow(out[i])
	}
	return out, nil
}

func (m *MemStore) GetRow(ctx context.Context, t Table, row int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "get row"); err != nil {
		return nil, err
	}
	rows, err := m.tableLocked("get row", t)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= len(rows) {
		return []string{}, nil
	}
	return TrimRow(append([]string(nil), rows[row]...)), nil
}

func (m *MemStore) GetCell(ctx context.Context, t Table, row, col int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "get cell"); err != nil {
		return "", err
	}
	rows, err := m.tableLocked("get cell", t)
	if err != nil {
		return "", err
	}
	if row < 0 || row >= len(rows) || col < 0 || col >= len(rows[row]) {
		return "", nil
	}
	return rows[row][col], nil
}

func (m *MemStore) SetCell(ctx context.Context, t Table, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "set cell"); err != nil {
		return err
	}
	rows, err := m.tableLocked("set cell", t)
	if err != nil {
		return err
	}
	if row < 0 || col < 0 {
		return Fatal("set cell", fmt.Errorf("invalid cell %d,%d", row, col))
	}
	for len(rows) <= row {
		rows = append(rows, nil)
	}
	for len(rows[row]) <= col {
		rows[row] = append(rows[row], "")
	}
	rows[row][col] = value
	m.tables[t.Name] = rows
	m.writes++
	return nil
}

func (m *MemStore) InsertRow(ctx context.Context, t Table, row int, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "insert row"); err != nil {
		return err
	}
	rows, err := m.tableLocked("insert row", t)
	if err != nil {
		return err
	}
	if row < 1 {
		return Fatal("insert row", fmt.Errorf("cannot insert above the header row (%d)", row))
	}
	for len(rows) < row {
		rows = append(rows, nil)
	}
	rows = append(rows, nil)
	copy(rows[row+1:], rows[row:])
	rows[row] = append([]string(nil), values...)
	m.tables[t.Name] = rows
	m.writes++
	return nil
}

func (m *MemStore) EnsureDailyTable(ctx context.Context, dateKey string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enterLocked(ctx, "ensure daily table"); err != nil {
		return Table{}, err
	}
	t := Table{Name: dateKey, Kind: TableDaily}
	if _, ok := m.tables[dateKey]; ok {
		return t, nil
	}
	header := []string{"ID"}
	if tmpl, ok := m.tables[m.template]; ok && len(tmpl) > 0 {
		header = append([]string(nil), tmpl[0]...)
	}
	m.tables[dateKey] = [][]string{header}
	m.created++
	return t, nil
}

func (m *MemStore) MasterTable() Table {
	return Table{Name: m.master, Kind: TableMaster}
}
