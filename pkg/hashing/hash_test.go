package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestGenesisHashLength(t *testing.T) {
	if len(GenesisHash) != 64 {
		t.Fatalf("genesis hash must be 64 hex chars, got %d", len(GenesisHash))
	}
}

func TestRecordHashMatchesManualComputation(t *testing.T) {
	payload := map[string]interface{}{"name": "A", "email": "a@x"}
	got, err := RecordHash("1", payload, nil)
	if err != nil {
		t.Fatalf("record hash: %v", err)
	}
	want := sha256Hex(`1|{"email":"a@x","name":"A"}`)
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMerkleHashConcatenatesAsText(t *testing.T) {
	l := sha256Hex("left")
	r := sha256Hex("right")
	got := MerkleHash(l, r)
	sum := sha256.Sum256([]byte(l + r))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestChainHashNullPayload(t *testing.T) {
	e := Entry{
		PrevHash:  GenesisHash,
		TxID:      "tx-1",
		RecordID:  "1",
		OpType:    "INSERT",
		OldPayload: nil,
		NewPayload: map[string]interface{}{"name": "A"},
		CreatedAt:  "2024-01-15 10:30:45.123456",
	}
	got, err := ChainHash(e)
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	want := sha256Hex(GenesisHash + "|tx-1|1|INSERT|NULL|" + `{"name":"A"}` + "|2024-01-15 10:30:45.123456")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestChainHashDeterministic(t *testing.T) {
	e := Entry{
		PrevHash:   GenesisHash,
		TxID:       "tx-1",
		RecordID:   "1",
		OpType:     "UPDATE",
		OldPayload: map[string]interface{}{"name": "A"},
		NewPayload: map[string]interface{}{"name": "A'"},
		CreatedAt:  "2024-01-15 10:30:45.123456",
	}
	first, err := ChainHash(e)
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	second, err := ChainHash(e)
	if err != nil {
		t.Fatalf("chain hash: %v", err)
	}
	if first != second {
		t.Fatalf("chain hash is not deterministic: %s vs %s", first, second)
	}
}
