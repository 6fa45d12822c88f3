// Package hashing implements the three hash primitives the ledger is built
// on: record_hash, chain_hash, and merkle_hash. All three are SHA-256 over
// byte sequences produced by pkg/codec, and the exact join discipline here
// must match what the database trigger computes (see migrations/0004_ledger_functions.sql).
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pgledger/auditor/pkg/codec"
)

// GenesisHash is the all-zero 64-hex-character prev_hash of a table's first
// ledger entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RecordHash computes SHA256(record_id || "|" || canonical_json(payload_sub))
// restricted to fieldsToHash if non-empty.
func RecordHash(recordID string, payload map[string]interface{}, fieldsToHash []string) (string, error) {
	body, err := codec.CanonicalizeMap(payload, fieldsToHash)
	if err != nil {
		return "", fmt.Errorf("hashing: record_hash canonicalize: %w", err)
	}
	return sha256Hex(recordID + "|" + string(body)), nil
}

// MerkleHash computes SHA256(l || r) where l and r are hex strings of child
// hashes, concatenated as text (not decoded to bytes first).
func MerkleHash(l, r string) string {
	return sha256Hex(l + r)
}

// Entry carries the fields a chain_hash is computed over. It deliberately
// mirrors the ledger entry shape rather than importing pkg/ledger, so this
// package has no dependency on the store.
type Entry struct {
	PrevHash   string
	TxID       string
	RecordID   string
	OpType     string
	OldPayload map[string]interface{}
	NewPayload map[string]interface{}
	CreatedAt  string // already in codec.TimestampLayout form
}

// ChainHash computes SHA256 over the UTF-8 bytes of the pipe-joined string
// prev_hash|tx_id|record_id|op_type|OLD|NEW|created_at, where OLD/NEW are
// either canonical_json(payload) or the literal NULL. This join must be
// byte-identical to what the Postgres trigger produces.
func ChainHash(e Entry) (string, error) {
	oldField, err := codec.JoinField(e.OldPayload)
	if err != nil {
		return "", fmt.Errorf("hashing: chain_hash old payload: %w", err)
	}
	newField, err := codec.JoinField(e.NewPayload)
	if err != nil {
		return "", fmt.Errorf("hashing: chain_hash new payload: %w", err)
	}
	joined := e.PrevHash + "|" + e.TxID + "|" + e.RecordID + "|" + e.OpType + "|" + oldField + "|" + newField + "|" + e.CreatedAt
	return sha256Hex(joined), nil
}
