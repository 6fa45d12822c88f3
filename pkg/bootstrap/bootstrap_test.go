package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/pgledger/auditor/pkg/ledger"
)

type fakeStore struct {
	hostRows    []ledger.HostRow
	appended    []string
	appendFails bool
}

func (f *fakeStore) StreamHostRows(ctx context.Context, tableName, primaryKey string, columns []string) ([]ledger.HostRow, error) {
	return f.hostRows, nil
}

func (f *fakeStore) Append(ctx context.Context, tableName, recordID string, op ledger.OpType, old, new map[string]interface{}) (*ledger.Entry, error) {
	if f.appendFails {
		return nil, errors.New("append failed")
	}
	f.appended = append(f.appended, recordID)
	return &ledger.Entry{TxOrder: int64(len(f.appended)), RecordID: recordID, OpType: op, NewPayload: new}, nil
}

type fakeIntrospector struct {
	descriptor *ledger.TableDescriptor
	err        error
}

func (f *fakeIntrospector) Detect(ctx context.Context, tableName, primaryKey string, fields []string) (*ledger.TableDescriptor, error) {
	return f.descriptor, f.err
}

type fakeInstaller struct {
	installed   []string
	uninstalled []string
	installErr  error
}

func (f *fakeInstaller) Install(ctx context.Context, descriptor ledger.TableDescriptor) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = append(f.installed, descriptor.TableName)
	return nil
}

func (f *fakeInstaller) Uninstall(ctx context.Context, tableName string) error {
	f.uninstalled = append(f.uninstalled, tableName)
	return nil
}

type fakeCheckpoints struct {
	root    string
	err     error
	calls   int
}

func (f *fakeCheckpoints) Compute(ctx context.Context, tableName string, fieldsToHash []string) (*ledger.Checkpoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Checkpoint{TableName: tableName, RootHash: f.root}, nil
}

func TestBootstrapFullSequence(t *testing.T) {
	store := &fakeStore{hostRows: []ledger.HostRow{
		{RecordID: "1", Payload: map[string]interface{}{"name": "A"}},
		{RecordID: "2", Payload: map[string]interface{}{"name": "B"}},
	}}
	introspector := &fakeIntrospector{descriptor: &ledger.TableDescriptor{
		TableName: "accounts", PrimaryKey: "id", TrackedColumns: []string{"id", "name"},
	}}
	installer := &fakeInstaller{}
	checkpoints := &fakeCheckpoints{root: "deadbeef"}

	o := NewOrchestrator(store, introspector, installer, checkpoints)
	result, err := o.Bootstrap(context.Background(), "accounts", Options{SnapshotExisting: true, CreateCheckpoint: true})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.RecordsSnapshotted != 2 {
		t.Fatalf("expected 2 records snapshotted, got %d", result.RecordsSnapshotted)
	}
	if result.MerkleRoot != "deadbeef" {
		t.Fatalf("expected root deadbeef, got %s", result.MerkleRoot)
	}
	if len(installer.installed) != 1 {
		t.Fatalf("expected trigger installed once, got %d", len(installer.installed))
	}
}

func TestBootstrapSkipsSnapshotWhenDisabled(t *testing.T) {
	store := &fakeStore{hostRows: []ledger.HostRow{{RecordID: "1", Payload: map[string]interface{}{}}}}
	introspector := &fakeIntrospector{descriptor: &ledger.TableDescriptor{TableName: "t", PrimaryKey: "id"}}
	installer := &fakeInstaller{}
	checkpoints := &fakeCheckpoints{}

	o := NewOrchestrator(store, introspector, installer, checkpoints)
	result, err := o.Bootstrap(context.Background(), "t", Options{SnapshotExisting: false})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if result.RecordsSnapshotted != 0 {
		t.Fatalf("expected 0 records snapshotted, got %d", result.RecordsSnapshotted)
	}
	if len(store.appended) != 0 {
		t.Fatalf("expected no appends, got %v", store.appended)
	}
}

func TestBootstrapUninstallsOnCheckpointFailure(t *testing.T) {
	store := &fakeStore{}
	introspector := &fakeIntrospector{descriptor: &ledger.TableDescriptor{TableName: "t", PrimaryKey: "id"}}
	installer := &fakeInstaller{}
	checkpoints := &fakeCheckpoints{err: errors.New("signer unavailable")}

	o := NewOrchestrator(store, introspector, installer, checkpoints)
	result, err := o.Bootstrap(context.Background(), "t", Options{CreateCheckpoint: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Success {
		t.Fatal("expected Success=false")
	}
	if len(installer.uninstalled) != 1 {
		t.Fatalf("expected trigger uninstalled after checkpoint failure, got %v", installer.uninstalled)
	}
}

func TestBootstrapDetectFailure(t *testing.T) {
	store := &fakeStore{}
	introspector := &fakeIntrospector{err: errors.New("no primary key")}
	installer := &fakeInstaller{}
	checkpoints := &fakeCheckpoints{}

	o := NewOrchestrator(store, introspector, installer, checkpoints)
	result, err := o.Bootstrap(context.Background(), "t", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Success {
		t.Fatal("expected Success=false")
	}
}
