// Package ledger implements the append-only, hash-chained universal ledger
// (C4): the store adapter every other component reads from or writes
// through.
package ledger

import "time"

// OpType is the kind of host-row mutation a ledger entry records.
type OpType string

const (
	OpInsert OpType = "INSERT"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// Valid reports whether op is one of the three recognized operation types.
func (op OpType) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Entry is a single immutable ledger row. Once appended, none of its fields
// may change; PrevHash/ChainHash form the hash chain.
type Entry struct {
	TxOrder    int64
	TxID       string
	TableName  string
	RecordID   string
	OpType     OpType
	OldPayload map[string]interface{}
	NewPayload map[string]interface{}
	CreatedAt  time.Time
	PrevHash   string
	ChainHash  string
}

// TableDescriptor is the immutable shape of a tracked host table: its
// primary key column and the set of columns whose values are carried into
// ledger payloads.
type TableDescriptor struct {
	TableName      string   `yaml:"table_name" json:"table_name"`
	PrimaryKey     string   `yaml:"primary_key" json:"primary_key"`
	TrackedColumns []string `yaml:"tracked_columns" json:"tracked_columns"`
}

// Checkpoint is a signed, persisted Merkle root over a table's chain-hash
// sequence as of some instant.
type Checkpoint struct {
	TableName         string
	RootHash          string
	ComputedAt        time.Time
	SignerID          string
	Signature         string // base64
	PubkeyFingerprint string // hex
	FieldsToHash      []string
	ReferenceTable    string // optional cross-reference (§3.1)
	ReferenceRoot     string // optional cross-reference (§3.1)
}

// EntryFilter narrows stream_entries to a sub-range and/or equality
// predicates on entry columns.
type EntryFilter struct {
	FromTx   *int64
	ToTx     *int64
	RecordID string // equality filter, empty means "all records"
}
