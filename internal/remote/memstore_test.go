package remote

import (
	"context"
	"reflect"
	"testing"
)

func TestMemStoreEnsureDailyTable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	store.Seed(DefaultTemplateName, [][]string{{"ID", "Timestamp1"}})

	tbl, err := store.EnsureDailyTable(ctx, "3/7/2026")
	if err != nil {
		t.Fatalf("EnsureDailyTable() failed: %v", err)
	}
	if tbl.Kind != TableDaily || tbl.Name != "3/7/2026" {
		t.Errorf("EnsureDailyTable() = %+v", tbl)
	}

	headers, err := store.GetHeaders(ctx, tbl)
	if err != nil {
		t.Fatalf("GetHeaders() failed: %v", err)
	}
	if !reflect.DeepEqual(headers, []string{"ID", "Timestamp1"}) {
		t.Errorf("GetHeaders() = %v, want template header", headers)
	}

	if _, err := store.EnsureDailyTable(ctx, "3/7/2026"); err != nil {
		t.Fatalf("second EnsureDailyTable() failed: %v", err)
	}
	if store.TablesCreated() != 1 {
		t.Errorf("TablesCreated() = %d, want 1", store.TablesCreated())
	}
}

func TestMemStoreCells(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	master := store.MasterTable()

	if err := store.InsertRow(ctx, master, 1, []string{"B2"}); err != nil {
		t.Fatalf("InsertRow() failed: %v", err)
	}
	if err := store.InsertRow(ctx, master, 1, []string{"A1"}); err != nil {
		t.Fatalf("InsertRow() failed: %v", err)
	}
	if err := store.SetCell(ctx, master, 2, 3, "Present"); err != nil {
		t.Fatalf("SetCell() failed: %v", err)
	}

	rows, err := store.GetAllRows(ctx, master)
	if err != nil {
		t.Fatalf("GetAllRows() failed: %v", err)
	}
	want := [][]string{{"ID"}, {"A1"}, {"B2", "", "", "Present"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("GetAllRows() = %v, want %v", rows, want)
	}

	cell, err := store.GetCell(ctx, master, 2, 3)
	if err != nil || cell != "Present" {
		t.Errorf("GetCell() = %q, %v", cell, err)
	}
	cell, err = store.GetCell(ctx, master, 9, 9)
	if err != nil || cell != "" {
		t.Errorf("GetCell() past end = %q, %v", cell, err)
	}
	if store.Writes() != 3 {
		t.Errorf("Writes() = %d, want 3", store.Writes())
	}

	if err := store.InsertRow(ctx, master, 0, []string{"X"}); !IsFatal(err) {
		t.Errorf("InsertRow() above header: err = %v, want fatal", err)
	}
}

func TestMemStoreFaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	master := store.MasterTable()

	store.FailNext(2, nil)
	for i := 0; i < 2; i++ {
		if _, err := store.GetHeaders(ctx, master); !IsTransient(err) {
			t.Fatalf("call %d: err = %v, want transient", i, err)
		}
	}
	if _, err := store.GetHeaders(ctx, master); err != nil {
		t.Fatalf("GetHeaders() after faults failed: %v", err)
	}

	store.SetReachable(false)
	if err := store.Connect(ctx); !IsTransient(err) {
		t.Errorf("Connect() while unreachable: err = %v, want transient", err)
	}
	store.SetReachable(true)
	if err := store.Connect(ctx); err != nil {
		t.Errorf("Connect() failed: %v", err)
	}

	if _, err := store.GetRow(ctx, Table{Name: "nope", Kind: TableDaily}, 0); !IsSchema(err) {
		t.Errorf("GetRow() on missing table: err = %v, want schema", err)
	}
	if store.Calls() != 6 {
		t.Errorf("Calls() = %d, want 6", store.Calls())
	}
}

func TestFindRow(t *testing.T) {
	rows := [][]string{{"ID", "Timestamp1"}, {"A1", "09:00:00"}, {}, {"B2"}}

	if got := FindRow(rows, 0, "B2"); got != 3 {
		t.Errorf("FindRow(B2) = %d, want 3", got)
	}
	if got := FindRow(rows, 0, "ID"); got != -1 {
		t.Errorf("FindRow(ID) = %d, header must not match", got)
	}
	if got := IndexOf(rows[0], "Timestamp1"); got != 1 {
		t.Errorf("IndexOf() = %d, want 1", got)
	}
}
