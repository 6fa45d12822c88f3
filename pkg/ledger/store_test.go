package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pgledger/auditor/pkg/config"
	"github.com/pgledger/auditor/pkg/database"
)

// testClient connects to a live Postgres instance and runs migrations.
// Ledger appends go through the ledger_append() PL/pgSQL function (§4.2),
// so a mock *sql.DB cannot exercise this package's real behavior; these
// tests skip entirely when LEDGER_TEST_DATABASE_URL is unset rather than
// pretending a SQL mock can stand in for the server-side hash chain.
var testClient *database.Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		os.Exit(0)
	}

	cfg := &config.Config{DatabaseURL: dsn, DatabaseMaxConns: 5, DatabaseMinConns: 1, DatabaseMaxIdleTime: 60, DatabaseMaxLifetime: 300}
	client, err := database.NewClient(cfg)
	if err != nil {
		panic("connect test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("migrate test database: " + err.Error())
	}
	testClient = client

	code := m.Run()
	client.Close()
	os.Exit(code)
}

func requireTestDB(t *testing.T) *Store {
	t.Helper()
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not set, skipping live database test")
	}
	table := "store_test_" + t.Name()
	if _, err := testClient.ExecContext(context.Background(), "DELETE FROM ledger WHERE table_name = $1", table); err != nil {
		t.Fatalf("clean ledger fixture: %v", err)
	}
	return NewStore(testClient)
}

func TestAppendChainsEntries(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	ctx := context.Background()

	e1, err := store.Append(ctx, table, "1", OpInsert, nil, map[string]interface{}{"name": "Alice"})
	if err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if e1.PrevHash != "0000000000000000000000000000000000000000000000000000000000000000" && len(e1.PrevHash) != 64 {
		t.Fatalf("expected genesis-length prev_hash, got %q", e1.PrevHash)
	}

	e2, err := store.Append(ctx, table, "1", OpUpdate, map[string]interface{}{"name": "Alice"}, map[string]interface{}{"name": "Alicia"})
	if err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	if e2.PrevHash != e1.ChainHash {
		t.Fatalf("expected e2.PrevHash == e1.ChainHash, got %s != %s", e2.PrevHash, e1.ChainHash)
	}
	if e2.TxOrder <= e1.TxOrder {
		t.Fatalf("expected increasing tx_order, got %d then %d", e1.TxOrder, e2.TxOrder)
	}
}

func TestAppendRejectsUnknownOpType(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	_, err := store.Append(context.Background(), table, "1", OpType("PATCH"), nil, map[string]interface{}{})
	if err != ErrOpTypeUnknown {
		t.Fatalf("expected ErrOpTypeUnknown, got %v", err)
	}
}

func TestAppendWithTxIDChainsOntoTailOrRejects(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	ctx := context.Background()

	tail, err := store.TailHash(ctx, table)
	if err != nil {
		t.Fatalf("TailHash: %v", err)
	}

	good := Entry{
		TxID:      "11111111-1111-1111-1111-111111111111",
		TableName: table,
		RecordID:  "1",
		OpType:    OpInsert,
		NewPayload: map[string]interface{}{"name": "Alice"},
		CreatedAt: time.Now().UTC(),
		PrevHash:  tail,
		ChainHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
	if err := store.AppendWithTxID(ctx, good); err != nil {
		t.Fatalf("AppendWithTxID (onto genesis): %v", err)
	}

	stale := Entry{
		TxID:      "22222222-2222-2222-2222-222222222222",
		TableName: table,
		RecordID:  "2",
		OpType:    OpInsert,
		NewPayload: map[string]interface{}{"name": "Bob"},
		CreatedAt: time.Now().UTC(),
		PrevHash:  tail, // stale: the tail has already advanced past this
		ChainHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	if err := store.AppendWithTxID(ctx, stale); !errors.Is(err, ErrAppendOutOfOrder) {
		t.Fatalf("expected ErrAppendOutOfOrder, got %v", err)
	}
}

func TestStreamEntriesFiltersByRecordAndRange(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "1"} {
		if _, err := store.Append(ctx, table, id, OpInsert, nil, map[string]interface{}{"id": id}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	all, err := store.StreamEntries(ctx, table, EntryFilter{})
	if err != nil {
		t.Fatalf("StreamEntries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	byRecord, err := store.StreamEntries(ctx, table, EntryFilter{RecordID: "1"})
	if err != nil {
		t.Fatalf("StreamEntries by record: %v", err)
	}
	if len(byRecord) != 2 {
		t.Fatalf("expected 2 entries for record 1, got %d", len(byRecord))
	}

	from := all[1].TxOrder
	ranged, err := store.StreamEntries(ctx, table, EntryFilter{FromTx: &from})
	if err != nil {
		t.Fatalf("StreamEntries ranged: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("expected 2 entries from tx_order %d, got %d", from, len(ranged))
	}
}

func TestStreamChainHashesMatchesEntries(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	ctx := context.Background()

	e, err := store.Append(ctx, table, "1", OpInsert, nil, map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	hashes, err := store.StreamChainHashes(ctx, table)
	if err != nil {
		t.Fatalf("StreamChainHashes: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != e.ChainHash {
		t.Fatalf("expected [%s], got %v", e.ChainHash, hashes)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	ctx := context.Background()

	if _, err := store.LatestCheckpoint(ctx, table); err != ErrNoCheckpointYet {
		t.Fatalf("expected ErrNoCheckpointYet before any checkpoint, got %v", err)
	}

	cp := Checkpoint{
		TableName:         table,
		RootHash:          "deadbeef",
		SignerID:          "test-signer",
		Signature:         "c2lnbmF0dXJl",
		PubkeyFingerprint: "fingerprint",
		FieldsToHash:      []string{"name"},
	}
	if err := store.WriteCheckpoint(ctx, cp); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	got, err := store.LatestCheckpoint(ctx, table)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if got.RootHash != cp.RootHash || got.SignerID != cp.SignerID {
		t.Fatalf("expected checkpoint to round-trip, got %+v", got)
	}
}

func TestTailHashIsGenesisForEmptyTable(t *testing.T) {
	store := requireTestDB(t)
	table := "store_test_" + t.Name()
	h, err := store.TailHash(context.Background(), table)
	if err != nil {
		t.Fatalf("TailHash: %v", err)
	}
	if len(h) != 64 {
		t.Fatalf("expected a 64-char genesis hash, got %q", h)
	}
}
