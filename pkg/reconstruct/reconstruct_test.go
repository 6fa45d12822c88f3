package reconstruct

import (
	"context"
	"testing"

	"github.com/pgledger/auditor/pkg/ledger"
)

type fakeStore struct {
	entries []ledger.Entry
}

func (f *fakeStore) StreamEntries(ctx context.Context, tableName string, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range f.entries {
		if filter.ToTx != nil && e.TxOrder > *filter.ToTx {
			continue
		}
		if filter.RecordID != "" && e.RecordID != filter.RecordID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestReconstructInsertUpdateDelete(t *testing.T) {
	store := &fakeStore{entries: []ledger.Entry{
		{TxOrder: 1, RecordID: "1", OpType: ledger.OpInsert, NewPayload: map[string]interface{}{"name": "A"}},
		{TxOrder: 2, RecordID: "2", OpType: ledger.OpInsert, NewPayload: map[string]interface{}{"name": "B"}},
		{TxOrder: 3, RecordID: "1", OpType: ledger.OpUpdate, NewPayload: map[string]interface{}{"name": "A'"}},
		{TxOrder: 4, RecordID: "2", OpType: ledger.OpDelete},
	}}
	r := NewReconstructor(store)

	state, err := r.Reconstruct(context.Background(), "accounts", Options{})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(state) != 1 {
		t.Fatalf("expected 1 surviving record, got %d: %v", len(state), state)
	}
	if state["1"]["name"] != "A'" {
		t.Fatalf("expected record 1 to be updated, got %v", state["1"])
	}
	if _, ok := state["2"]; ok {
		t.Fatal("expected record 2 to be deleted")
	}
}

func TestReconstructUnknownOpType(t *testing.T) {
	store := &fakeStore{entries: []ledger.Entry{
		{TxOrder: 1, RecordID: "1", OpType: ledger.OpType("WEIRD")},
	}}
	r := NewReconstructor(store)

	if _, err := r.Reconstruct(context.Background(), "accounts", Options{}); err == nil {
		t.Fatal("expected error for unknown op_type")
	}
}

func TestStateRootEmpty(t *testing.T) {
	root, err := StateRoot(State{}, nil)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if root == "" {
		t.Fatal("expected a sentinel root for empty state")
	}
}

func TestStateRootDeterministicOrdering(t *testing.T) {
	state := State{
		"2": {"name": "B"},
		"10": {"name": "J"},
		"1": {"name": "A"},
	}
	root1, err := StateRoot(state, nil)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	root2, err := StateRoot(state, nil)
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if root1 != root2 {
		t.Fatal("expected deterministic root across calls")
	}
}

func TestAsOfTxBound(t *testing.T) {
	store := &fakeStore{entries: []ledger.Entry{
		{TxOrder: 1, RecordID: "1", OpType: ledger.OpInsert, NewPayload: map[string]interface{}{"name": "A"}},
		{TxOrder: 2, RecordID: "1", OpType: ledger.OpUpdate, NewPayload: map[string]interface{}{"name": "A'"}},
	}}
	r := NewReconstructor(store)

	asOf := int64(1)
	state, err := r.Reconstruct(context.Background(), "accounts", Options{AsOfTx: &asOf})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if state["1"]["name"] != "A" {
		t.Fatalf("expected pre-update state, got %v", state["1"])
	}
}
