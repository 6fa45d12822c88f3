package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgledger/auditor/pkg/database"
	"github.com/pgledger/auditor/pkg/hashing"
)

// Store is the C4 store adapter: the only path through which ledger entries
// are appended and read back. A Store wraps a *database.Client and serializes
// appends per table with a Postgres advisory lock, mirroring the same
// serialization discipline the ledger_append() trigger function uses so that
// application-level appends (for tables without an installed trigger) and
// trigger-driven appends never race on prev_hash.
type Store struct {
	client *database.Client
}

// NewStore wraps an already-connected database client.
func NewStore(client *database.Client) *Store {
	return &Store{client: client}
}

// Append inserts a new ledger entry for table, chaining it onto the current
// tail. It is equivalent to calling the ledger_append() SQL function and
// exists for callers (application-level proxies, bootstrap snapshots) that
// append without a database trigger in front of them.
func (s *Store) Append(ctx context.Context, tableName, recordID string, op OpType, old, new map[string]interface{}) (*Entry, error) {
	if !op.Valid() {
		return nil, ErrOpTypeUnknown
	}

	oldJSON, err := marshalPayload(old)
	if err != nil {
		return nil, fmt.Errorf("marshal old payload: %w", err)
	}
	newJSON, err := marshalPayload(new)
	if err != nil {
		return nil, fmt.Errorf("marshal new payload: %w", err)
	}

	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var txOrder int64
	row := tx.Tx().QueryRowContext(ctx, `SELECT ledger_append($1, $2, $3, $4, $5)`,
		tableName, recordID, string(op), oldJSON, newJSON)
	if err := row.Scan(&txOrder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionConflict, err)
	}

	var entry Entry
	var opStr string
	var oldRaw, newRaw sql.NullString
	selErr := tx.Tx().QueryRowContext(ctx, `
		SELECT tx_order, tx_id, table_name, record_id, op_type,
		       old_payload, new_payload, created_at, prev_hash, chain_hash
		FROM ledger WHERE tx_order = $1`, txOrder).Scan(
		&entry.TxOrder, &entry.TxID, &entry.TableName, &entry.RecordID, &opStr,
		&oldRaw, &newRaw, &entry.CreatedAt, &entry.PrevHash, &entry.ChainHash,
	)
	if selErr != nil {
		return nil, fmt.Errorf("read back appended entry: %w", selErr)
	}
	entry.OpType = OpType(opStr)
	if entry.OldPayload, err = unmarshalPayload(oldRaw); err != nil {
		return nil, err
	}
	if entry.NewPayload, err = unmarshalPayload(newRaw); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &entry, nil
}

// AppendWithTxID appends an entry that already carries an
// externally-assigned tx_id, such as
// entries copied in from another ledger during a cross-reference bootstrap.
// Unlike Append, the caller supplies prev_hash and created_at explicitly;
// Store does not recompute them.
func (s *Store) AppendWithTxID(ctx context.Context, entry Entry) error {
	if !entry.OpType.Valid() {
		return ErrOpTypeUnknown
	}
	if entry.TxID == "" {
		entry.TxID = uuid.New().String()
	}

	tail, err := s.TailHash(ctx, entry.TableName)
	if err != nil {
		return fmt.Errorf("check tail hash: %w", err)
	}
	if entry.PrevHash != tail {
		return fmt.Errorf("%w: %s's prev_hash %s does not chain onto current tail %s",
			ErrAppendOutOfOrder, entry.TableName, entry.PrevHash, tail)
	}

	oldJSON, err := marshalPayload(entry.OldPayload)
	if err != nil {
		return fmt.Errorf("marshal old payload: %w", err)
	}
	newJSON, err := marshalPayload(entry.NewPayload)
	if err != nil {
		return fmt.Errorf("marshal new payload: %w", err)
	}

	_, err = s.client.ExecContext(ctx, `
		INSERT INTO ledger (tx_id, table_name, record_id, op_type, old_payload, new_payload, created_at, prev_hash, chain_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_id) DO NOTHING`,
		entry.TxID, entry.TableName, entry.RecordID, string(entry.OpType),
		oldJSON, newJSON, entry.CreatedAt, entry.PrevHash, entry.ChainHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// StreamEntries returns entries for tableName in tx_order, applying filter's
// optional range and record_id predicates. Callers needing very large tables
// should page by repeatedly narrowing filter.FromTx rather than materializing
// everything at once; Store itself does not impose a page size.
func (s *Store) StreamEntries(ctx context.Context, tableName string, filter EntryFilter) ([]Entry, error) {
	query := `
		SELECT tx_order, tx_id, table_name, record_id, op_type,
		       old_payload, new_payload, created_at, prev_hash, chain_hash
		FROM ledger WHERE table_name = $1`
	args := []interface{}{tableName}

	if filter.FromTx != nil {
		args = append(args, *filter.FromTx)
		query += fmt.Sprintf(" AND tx_order >= $%d", len(args))
	}
	if filter.ToTx != nil {
		args = append(args, *filter.ToTx)
		query += fmt.Sprintf(" AND tx_order <= $%d", len(args))
	}
	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		query += fmt.Sprintf(" AND record_id = $%d", len(args))
	}
	query += " ORDER BY tx_order ASC"

	rows, err := s.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var opStr string
		var oldRaw, newRaw sql.NullString
		if err := rows.Scan(&e.TxOrder, &e.TxID, &e.TableName, &e.RecordID, &opStr,
			&oldRaw, &newRaw, &e.CreatedAt, &e.PrevHash, &e.ChainHash); err != nil {
			return nil, err
		}
		e.OpType = OpType(opStr)
		if e.OldPayload, err = unmarshalPayload(oldRaw); err != nil {
			return nil, err
		}
		if e.NewPayload, err = unmarshalPayload(newRaw); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StreamChainHashes is a lean variant of StreamEntries for callers (C3, C8)
// that need only the leaf material for a Merkle tree, not full payloads.
func (s *Store) StreamChainHashes(ctx context.Context, tableName string) ([]string, error) {
	rows, err := s.client.QueryContext(ctx, `
		SELECT chain_hash FROM ledger WHERE table_name = $1 ORDER BY tx_order ASC`, tableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// HostRow is a single live row of a tracked host table, projected down to
// its primary key and tracked-column payload.
type HostRow struct {
	RecordID string
	Payload  map[string]interface{}
}

// StreamHostRows reads the live contents of a tracked host table (not the
// ledger) for use by P3 (live-vs-ledger reconciliation) and C9 (bootstrap
// snapshotting). columns must match the table descriptor's tracked columns;
// primaryKey selects the row identity column.
func (s *Store) StreamHostRows(ctx context.Context, tableName, primaryKey string, columns []string) ([]HostRow, error) {
	cols := append([]string{primaryKey}, columns...)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC",
		joinComma(quoted), quoteIdent(tableName), quoteIdent(primaryKey))

	rows, err := s.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []HostRow
	for rows.Next() {
		scanDest := make([]interface{}, len(cols))
		for i := range scanDest {
			scanDest[i] = new(interface{})
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, err
		}
		recordID := fmt.Sprintf("%v", *(scanDest[0].(*interface{})))
		payload := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			payload[c] = *(scanDest[i+1].(*interface{}))
		}
		out = append(out, HostRow{RecordID: recordID, Payload: payload})
	}
	return out, rows.Err()
}

// LatestCheckpoint returns the most recently computed checkpoint row for
// tableName, or ErrNoCheckpointYet if none exists.
func (s *Store) LatestCheckpoint(ctx context.Context, tableName string) (*Checkpoint, error) {
	var cp Checkpoint
	var fieldsRaw sql.NullString
	var refTable, refRoot sql.NullString
	err := s.client.QueryRowContext(ctx, `
		SELECT table_name, root_hash, computed_at, signer_id, signature, pubkey_fingerprint,
		       fields_to_hash, reference_table, reference_root
		FROM ledger_roots WHERE table_name = $1
		ORDER BY computed_at DESC LIMIT 1`, tableName).Scan(
		&cp.TableName, &cp.RootHash, &cp.ComputedAt, &cp.SignerID, &cp.Signature, &cp.PubkeyFingerprint,
		&fieldsRaw, &refTable, &refRoot,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoCheckpointYet
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if fieldsRaw.Valid {
		if err := json.Unmarshal([]byte(fieldsRaw.String), &cp.FieldsToHash); err != nil {
			return nil, fmt.Errorf("unmarshal fields_to_hash: %w", err)
		}
	}
	cp.ReferenceTable = refTable.String
	cp.ReferenceRoot = refRoot.String
	return &cp, nil
}

// WriteCheckpoint persists a newly computed, signed checkpoint. Checkpoints
// are append-only: this always inserts a new row, never updates one.
func (s *Store) WriteCheckpoint(ctx context.Context, cp Checkpoint) error {
	fieldsJSON, err := json.Marshal(cp.FieldsToHash)
	if err != nil {
		return fmt.Errorf("marshal fields_to_hash: %w", err)
	}
	var refTable, refRoot interface{}
	if cp.ReferenceTable != "" {
		refTable = cp.ReferenceTable
		refRoot = cp.ReferenceRoot
	}
	_, err = s.client.ExecContext(ctx, `
		INSERT INTO ledger_roots (table_name, root_hash, computed_at, signer_id, signature, pubkey_fingerprint, fields_to_hash, reference_table, reference_root)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cp.TableName, cp.RootHash, cp.ComputedAt, cp.SignerID, cp.Signature, cp.PubkeyFingerprint,
		fieldsJSON, refTable, refRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// TailHash returns the chain_hash of the last entry appended for tableName,
// or the genesis hash if the table has no entries yet.
func (s *Store) TailHash(ctx context.Context, tableName string) (string, error) {
	var h string
	err := s.client.QueryRowContext(ctx, `
		SELECT chain_hash FROM ledger WHERE table_name = $1 ORDER BY tx_order DESC LIMIT 1`, tableName).Scan(&h)
	if err == sql.ErrNoRows {
		return hashing.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return h, nil
}

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func unmarshalPayload(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// quoteIdent double-quotes a Postgres identifier, doubling any embedded
// quote. Table/column names come from table descriptors installed by an
// operator (pkg/bootstrap), not end-user input, but every identifier
// interpolated into SQL text still goes through here rather than being
// concatenated raw.
func quoteIdent(ident string) string {
	escaped := ""
	for _, r := range ident {
		if r == '"' {
			escaped += `""`
		} else {
			escaped += string(r)
		}
	}
	return `"` + escaped + `"`
}
