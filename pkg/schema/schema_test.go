package schema

import (
	"path/filepath"
	"testing"

	"github.com/pgledger/auditor/pkg/ledger"
)

func TestFilterColumnsNilFieldsReturnsAll(t *testing.T) {
	cols := []string{"id", "name", "balance"}
	got := FilterColumns(cols, nil, "id")
	if len(got) != 3 {
		t.Fatalf("expected all columns, got %v", got)
	}
}

func TestFilterColumnsAlwaysIncludesPrimaryKey(t *testing.T) {
	cols := []string{"id", "name", "balance"}
	got := FilterColumns(cols, []string{"balance"}, "id")
	want := []string{"id", "balance"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")

	d := &ledger.TableDescriptor{
		TableName:      "accounts",
		PrimaryKey:     "id",
		TrackedColumns: []string{"id", "balance", "owner"},
	}
	if err := SaveDescriptor(path, d); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}

	loaded, err := LoadDescriptor(path)
	if err != nil {
		t.Fatalf("LoadDescriptor: %v", err)
	}
	if loaded.TableName != d.TableName || loaded.PrimaryKey != d.PrimaryKey {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if len(loaded.TrackedColumns) != 3 {
		t.Fatalf("expected 3 tracked columns, got %v", loaded.TrackedColumns)
	}
}

func TestLoadDescriptorDir(t *testing.T) {
	dir := t.TempDir()
	d1 := &ledger.TableDescriptor{TableName: "a", PrimaryKey: "id", TrackedColumns: []string{"id"}}
	d2 := &ledger.TableDescriptor{TableName: "b", PrimaryKey: "id", TrackedColumns: []string{"id"}}
	if err := SaveDescriptor(filepath.Join(dir, "a.yaml"), d1); err != nil {
		t.Fatal(err)
	}
	if err := SaveDescriptor(filepath.Join(dir, "b.yml"), d2); err != nil {
		t.Fatal(err)
	}

	got, err := LoadDescriptorDir(dir)
	if err != nil {
		t.Fatalf("LoadDescriptorDir: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(got))
	}
}
