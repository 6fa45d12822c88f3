// Package checkpoint implements C7: computing, signing, and persisting
// Merkle-root checkpoints over a table's chain-hash sequence, and the §3.1
// cross-reference bridge that lets two independently checkpointed tables
// vouch for each other. Grounded on maria_ledger/db/merkle_service.py's
// compute_and_store_merkle_root and db/cross_reference.py's
// record_cross_reference/verify_cross_reference.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgledger/auditor/pkg/ledger"
	"github.com/pgledger/auditor/pkg/merkle"
	"github.com/pgledger/auditor/pkg/signer"
)

// Store is the subset of *ledger.Store a checkpoint service needs.
type Store interface {
	StreamChainHashes(ctx context.Context, tableName string) ([]string, error)
	LatestCheckpoint(ctx context.Context, tableName string) (*ledger.Checkpoint, error)
	WriteCheckpoint(ctx context.Context, cp ledger.Checkpoint) error
}

// ErrEmptyTable means a checkpoint was requested for a table with no ledger
// entries yet; there is no chain-hash sequence to root.
var ErrEmptyTable = ledger.ErrEmptyTable

// ErrPubkeyFingerprintMismatch means a checkpoint's stored fingerprint no
// longer matches the verifying signer's own key, i.e. the signer's key was
// rotated (or substituted) since the checkpoint was written.
var ErrPubkeyFingerprintMismatch = errors.New("checkpoint: pubkey_fingerprint_mismatch")

// ErrCrossReferenceMismatch means two tables' bidirectional §3.1
// cross-reference checkpoints no longer agree with each other's current
// root_hash.
var ErrCrossReferenceMismatch = errors.New("checkpoint: cross_reference_mismatch")

// Service computes and persists signed checkpoints.
type Service struct {
	store  Store
	signer signer.Signer
}

// NewService wraps a ledger store and the signer used to sign newly
// computed roots.
func NewService(store Store, s signer.Signer) *Service {
	return &Service{store: store, signer: s}
}

// Compute builds a Merkle tree over tableName's full chain_hash sequence,
// signs the root, persists the checkpoint, and returns it. fieldsToHash
// records which columns were in scope for this table's tracked payloads at
// checkpoint time, for future verification-path documentation; pass nil to
// mean "all tracked columns".
func (s *Service) Compute(ctx context.Context, tableName string, fieldsToHash []string) (*ledger.Checkpoint, error) {
	hashes, err := s.store.StreamChainHashes(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("stream chain hashes: %w", err)
	}
	if len(hashes) == 0 {
		return nil, ErrEmptyTable
	}

	tree, err := merkle.BuildTree(hashes)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}
	root := tree.Root()

	sig, err := s.signer.Sign(root)
	if err != nil {
		return nil, fmt.Errorf("sign root: %w", err)
	}

	cp := ledger.Checkpoint{
		TableName:         tableName,
		RootHash:          root,
		ComputedAt:        time.Now().UTC(),
		SignerID:          s.signer.SignerID(),
		Signature:         sig,
		PubkeyFingerprint: s.signer.Fingerprint(),
		FieldsToHash:      fieldsToHash,
	}
	if err := s.store.WriteCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest returns the most recently persisted checkpoint for tableName.
func (s *Service) Latest(ctx context.Context, tableName string) (*ledger.Checkpoint, error) {
	return s.store.LatestCheckpoint(ctx, tableName)
}

// VerifySignature checks that a checkpoint's signature validates under the
// service's own signer and that its stored fingerprint still matches that
// signer's current key. This only proves the checkpoint was signed by this
// signer's key; it does not recompute the root from the ledger (that is
// P2, in pkg/verify).
func (s *Service) VerifySignature(cp *ledger.Checkpoint) error {
	if cp.PubkeyFingerprint != s.signer.Fingerprint() {
		return fmt.Errorf("%w: checkpoint fingerprint %s, signer fingerprint %s",
			ErrPubkeyFingerprintMismatch, cp.PubkeyFingerprint, s.signer.Fingerprint())
	}
	return s.signer.Verify(cp.RootHash, cp.Signature)
}

// CrossReference is the result of bridging two independently checkpointed
// tables (§3.1): each table's latest checkpoint carries the other's root,
// so tampering with either ledger is detectable from the other's record.
type CrossReference struct {
	SourceTable string
	TargetTable string
	SourceRoot  string
	TargetRoot  string
}

// Link computes fresh checkpoints for sourceTable and targetTable (so the
// roots being cross-referenced are current), then writes one additional
// checkpoint row per table carrying the other table's root in
// ReferenceRoot/ReferenceTable. Mirrors record_cross_reference's
// bidirectional insert, but reuses freshly computed roots rather than
// reading back whatever root happened to be latest already.
func (s *Service) Link(ctx context.Context, sourceTable, targetTable string) (*CrossReference, error) {
	sourceCP, err := s.Compute(ctx, sourceTable, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint source table %s: %w", sourceTable, err)
	}
	targetCP, err := s.Compute(ctx, targetTable, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint target table %s: %w", targetTable, err)
	}

	now := time.Now().UTC()
	sourceLink := ledger.Checkpoint{
		TableName:         sourceTable,
		RootHash:          sourceCP.RootHash,
		ComputedAt:        now,
		SignerID:          s.signer.SignerID(),
		Signature:         sourceCP.Signature,
		PubkeyFingerprint: sourceCP.PubkeyFingerprint,
		ReferenceTable:    targetTable,
		ReferenceRoot:     targetCP.RootHash,
	}
	targetLink := ledger.Checkpoint{
		TableName:         targetTable,
		RootHash:          targetCP.RootHash,
		ComputedAt:        now,
		SignerID:          s.signer.SignerID(),
		Signature:         targetCP.Signature,
		PubkeyFingerprint: targetCP.PubkeyFingerprint,
		ReferenceTable:    sourceTable,
		ReferenceRoot:     sourceCP.RootHash,
	}
	if err := s.store.WriteCheckpoint(ctx, sourceLink); err != nil {
		return nil, fmt.Errorf("write source cross-reference: %w", err)
	}
	if err := s.store.WriteCheckpoint(ctx, targetLink); err != nil {
		return nil, fmt.Errorf("write target cross-reference: %w", err)
	}

	return &CrossReference{
		SourceTable: sourceTable,
		TargetTable: targetTable,
		SourceRoot:  sourceCP.RootHash,
		TargetRoot:  targetCP.RootHash,
	}, nil
}

// VerifyCrossReference checks the bidirectional cross-reference between
// sourceTable and targetTable: each table's most recent checkpoint
// referencing the other must carry the other's own root_hash as its
// reference_root, in both directions. Mirrors verify_cross_reference.
func (s *Service) VerifyCrossReference(ctx context.Context, sourceTable, targetTable string) error {
	sourceCP, err := s.store.LatestCheckpoint(ctx, sourceTable)
	if err != nil {
		return fmt.Errorf("latest checkpoint for %s: %w", sourceTable, err)
	}
	targetCP, err := s.store.LatestCheckpoint(ctx, targetTable)
	if err != nil {
		return fmt.Errorf("latest checkpoint for %s: %w", targetTable, err)
	}
	if sourceCP.ReferenceTable != targetTable || sourceCP.ReferenceRoot != targetCP.RootHash {
		return fmt.Errorf("%w: %s's reference to %s (%s) does not match %s's current root (%s)",
			ErrCrossReferenceMismatch, sourceTable, targetTable, sourceCP.ReferenceRoot, targetTable, targetCP.RootHash)
	}
	if targetCP.ReferenceTable != sourceTable || targetCP.ReferenceRoot != sourceCP.RootHash {
		return fmt.Errorf("%w: %s's reference to %s (%s) does not match %s's current root (%s)",
			ErrCrossReferenceMismatch, targetTable, sourceTable, targetCP.ReferenceRoot, sourceTable, sourceCP.RootHash)
	}
	return nil
}
