// Package reconstruct implements C6: replaying a table's ledger history
// into a record-id → payload map, and computing a state Merkle root over
// the result. Grounded on maria_ledger/cli/reconstruct.py's
// reconstruct_table_state/apply_ops_to_state/build_merkle_root_from_state,
// adapted from its in-process CSV/Merkle workflow to a streaming store read.
package reconstruct

import (
	"context"
	"fmt"
	"sort"

	"github.com/pgledger/auditor/pkg/codec"
	"github.com/pgledger/auditor/pkg/hashing"
	"github.com/pgledger/auditor/pkg/ledger"
	"github.com/pgledger/auditor/pkg/merkle"
)

// Store is the subset of *ledger.Store the reconstructor needs.
type Store interface {
	StreamEntries(ctx context.Context, tableName string, filter ledger.EntryFilter) ([]ledger.Entry, error)
}

// ErrUnknownOpType means a ledger entry carried something other than
// INSERT/UPDATE/DELETE; reconstruction cannot proceed past it.
var ErrUnknownOpType = ledger.ErrOpTypeUnknown

// State maps record_id to its current (as-of-replay) payload.
type State map[string]map[string]interface{}

// Reconstructor replays ledger entries into State.
type Reconstructor struct {
	store Store
}

// NewReconstructor wraps a ledger store.
func NewReconstructor(store Store) *Reconstructor {
	return &Reconstructor{store: store}
}

// Options narrows which entries are replayed.
type Options struct {
	// AsOfTx, if non-nil, stops replay after this tx_order (inclusive).
	AsOfTx *int64
	// RecordID, if non-empty, replays only entries for a single record.
	RecordID string
}

// Reconstruct folds tableName's ledger history (subject to opts) into a
// State map: INSERT/UPDATE assign state[record_id] = new_payload, DELETE
// removes it. Old payloads are never inspected; the ledger's new_payload is
// authoritative going forward. Timestamp-looking string values are coerced
// into the canonical rendering so the result hashes identically to a
// freshly read live row.
func (r *Reconstructor) Reconstruct(ctx context.Context, tableName string, opts Options) (State, error) {
	filter := ledger.EntryFilter{ToTx: opts.AsOfTx, RecordID: opts.RecordID}
	entries, err := r.store.StreamEntries(ctx, tableName, filter)
	if err != nil {
		return nil, fmt.Errorf("stream entries: %w", err)
	}

	state := make(State)
	for _, e := range entries {
		switch e.OpType {
		case ledger.OpInsert, ledger.OpUpdate:
			state[e.RecordID] = codec.CoerceTimestamps(e.NewPayload)
		case ledger.OpDelete:
			delete(state, e.RecordID)
		default:
			return nil, fmt.Errorf("reconstruct: tx_order %d: %w", e.TxOrder, ErrUnknownOpType)
		}
	}
	return state, nil
}

// StateRoot computes the Merkle root over state's records, restricted to
// fieldsToHash if non-empty, in ascending record-id order as SortedIDs
// gives it (numeric when every id parses as an integer, lexicographic
// otherwise). Returns merkle.EmptyRoot for an empty state.
func StateRoot(state State, fieldsToHash []string) (string, error) {
	ids := sortedRecordIDs(state)
	if len(ids) == 0 {
		return merkle.EmptyRoot, nil
	}
	hashes := make([]string, len(ids))
	for i, id := range ids {
		h, err := hashing.RecordHash(id, state[id], fieldsToHash)
		if err != nil {
			return "", fmt.Errorf("hash record %s: %w", id, err)
		}
		hashes[i] = h
	}
	tree, err := merkle.BuildTree(hashes)
	if err != nil {
		return "", err
	}
	return tree.Root(), nil
}

// sortedRecordIDs returns state's keys sorted numerically when every key
// parses as an integer (the common case for serial primary keys), falling
// back to lexicographic order otherwise.
func sortedRecordIDs(state State) []string {
	return SortedIDs(state)
}

// SortedIDs returns state's keys in the same order StateRoot hashes them:
// numerically when every key parses as an integer, lexicographically
// otherwise. Exported so callers (P3/P4 in pkg/verify) can walk records in
// the same order a state root was built from.
func SortedIDs(state State) []string {
	ids := make([]string, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return LessRecordID(ids[i], ids[j])
	})
	return ids
}

// LessRecordID orders two record ids numerically if both parse as
// integers, falling back to lexicographic order otherwise.
func LessRecordID(a, b string) bool {
	ai, aok := parseInt(a)
	bi, bok := parseInt(b)
	if aok && bok {
		return ai < bi
	}
	return a < b
}

func parseInt(s string) (int64, bool) {
	var n int64
	var sign int64 = 1
	if s == "" {
		return 0, false
	}
	start := 0
	if s[0] == '-' {
		sign = -1
		start = 1
		if len(s) == 1 {
			return 0, false
		}
	}
	for i := start; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return sign * n, true
}
