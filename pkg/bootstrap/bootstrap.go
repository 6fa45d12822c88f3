// Package bootstrap implements C9: the one-time orchestration that turns an
// existing host table into a tracked one. Grounded on
// maria_ledger/utils/bootstrap_utils.py's bootstrap_table_core, which
// snapshots existing rows into the ledger, installs triggers, and computes
// an initial checkpoint as a single sequence, rolling back the ledger
// inserts if anything downstream fails.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/pgledger/auditor/pkg/checkpoint"
	"github.com/pgledger/auditor/pkg/ledger"
	"github.com/pgledger/auditor/pkg/schema"
	"github.com/pgledger/auditor/pkg/trigger"
)

// Store is the subset of *ledger.Store the orchestrator needs.
type Store interface {
	StreamHostRows(ctx context.Context, tableName, primaryKey string, columns []string) ([]ledger.HostRow, error)
	Append(ctx context.Context, tableName, recordID string, op ledger.OpType, old, new map[string]interface{}) (*ledger.Entry, error)
}

// Introspector is the subset of *schema.Introspector the orchestrator needs.
type Introspector interface {
	Detect(ctx context.Context, tableName, primaryKey string, fields []string) (*ledger.TableDescriptor, error)
}

// TriggerInstaller is the subset of *trigger.Installer the orchestrator
// needs.
type TriggerInstaller interface {
	Install(ctx context.Context, descriptor ledger.TableDescriptor) error
	Uninstall(ctx context.Context, tableName string) error
}

// CheckpointService is the subset of *checkpoint.Service the orchestrator
// needs.
type CheckpointService interface {
	Compute(ctx context.Context, tableName string, fieldsToHash []string) (*ledger.Checkpoint, error)
}

// Options configures a single Bootstrap call, mirroring
// bootstrap_table_core's keyword arguments.
type Options struct {
	// PrimaryKey, if empty, is auto-detected via schema introspection.
	PrimaryKey string
	// Fields restricts tracked columns; nil tracks every column.
	Fields []string
	// SnapshotExisting, when true (the default expectation), replays every
	// existing row as a synthetic INSERT before triggers are installed.
	// When false, only the trigger is installed and history starts empty.
	SnapshotExisting bool
	// CreateCheckpoint, when true, computes and persists an initial
	// checkpoint once snapshotting and trigger installation succeed.
	CreateCheckpoint bool
	// FieldsToHash narrows the initial checkpoint's recorded scope; nil
	// means "all tracked columns".
	FieldsToHash []string
}

// Result mirrors bootstrap_table_core's returned shape.
type Result struct {
	Success             bool
	MerkleRoot          string
	RecordsSnapshotted  int
	PrimaryKey          string
	ColumnsTracked      []string
	Error               string
}

// Orchestrator runs C9 against a single host table.
type Orchestrator struct {
	store        Store
	introspector Introspector
	installer    TriggerInstaller
	checkpoints  CheckpointService
}

// NewOrchestrator wires the components C9 drives: C4 (store), schema
// introspection, C5 (trigger installer), and C7 (checkpoint service).
func NewOrchestrator(store Store, introspector Introspector, installer TriggerInstaller, checkpoints CheckpointService) *Orchestrator {
	return &Orchestrator{store: store, introspector: introspector, installer: installer, checkpoints: checkpoints}
}

// Bootstrap runs the full C9 sequence for tableName. Every failure returns
// a Result with Success=false (and Error populated) alongside the wrapped
// Go error, matching bootstrap_table_core's "always return a result"
// contract. Only a failed initial checkpoint uninstalls the trigger that
// was just installed; ledger entries already appended by the snapshot step
// are not removed on any failure.
func (o *Orchestrator) Bootstrap(ctx context.Context, tableName string, opts Options) (*Result, error) {
	descriptor, err := o.introspector.Detect(ctx, tableName, opts.PrimaryKey, opts.Fields)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, fmt.Errorf("detect schema: %w", err)
	}

	result := &Result{PrimaryKey: descriptor.PrimaryKey, ColumnsTracked: descriptor.TrackedColumns}

	if opts.SnapshotExisting {
		n, err := o.snapshot(ctx, tableName, *descriptor)
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("snapshot existing rows: %w", err)
		}
		result.RecordsSnapshotted = n
	}

	if err := o.installer.Install(ctx, *descriptor); err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("install triggers: %w", err)
	}

	if opts.CreateCheckpoint {
		fieldsToHash := opts.FieldsToHash
		if fieldsToHash == nil {
			fieldsToHash = descriptor.TrackedColumns
		}
		cp, err := o.checkpoints.Compute(ctx, tableName, fieldsToHash)
		if err != nil {
			if uninstallErr := o.installer.Uninstall(ctx, tableName); uninstallErr != nil {
				result.Error = fmt.Sprintf("%v (also failed to uninstall trigger: %v)", err, uninstallErr)
			} else {
				result.Error = err.Error()
			}
			return result, fmt.Errorf("compute initial checkpoint: %w", err)
		}
		result.MerkleRoot = cp.RootHash
	}

	result.Success = true
	return result, nil
}

// snapshot replays every existing row of tableName as a synthetic INSERT,
// in primary-key order, so the ledger's append order matches the table's
// natural row order. Appends are sequential, not concurrent: each one
// depends on the previous append's chain_hash becoming the next prev_hash.
func (o *Orchestrator) snapshot(ctx context.Context, tableName string, descriptor ledger.TableDescriptor) (int, error) {
	nonKeyColumns := make([]string, 0, len(descriptor.TrackedColumns))
	for _, c := range descriptor.TrackedColumns {
		if c != descriptor.PrimaryKey {
			nonKeyColumns = append(nonKeyColumns, c)
		}
	}

	rows, err := o.store.StreamHostRows(ctx, tableName, descriptor.PrimaryKey, nonKeyColumns)
	if err != nil {
		return 0, fmt.Errorf("stream host rows: %w", err)
	}

	count := 0
	for _, row := range rows {
		if _, err := o.store.Append(ctx, tableName, row.RecordID, ledger.OpInsert, nil, row.Payload); err != nil {
			return count, fmt.Errorf("append snapshot row %s: %w", row.RecordID, err)
		}
		count++
	}
	return count, nil
}

// Ensure the schema package's concrete types satisfy the narrow interfaces
// above without requiring callers to import schema/trigger/checkpoint
// themselves when constructing an Orchestrator in tests.
var (
	_ Introspector      = (*schema.Introspector)(nil)
	_ TriggerInstaller  = (*trigger.Installer)(nil)
	_ CheckpointService = (*checkpoint.Service)(nil)
)
