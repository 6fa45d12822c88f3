// Package forensic implements the anomaly scan and weighted risk score
// grounded on maria_ledger/db/temporal_utils.py's
// analyze_universal_ledger_chain. It runs independently of P1: P1 stops at
// the first integrity failure, while forensic scanning walks the whole
// chain once and accumulates every anomaly it finds, for post-incident
// triage rather than pass/fail gating.
package forensic

import (
	"context"
	"fmt"
	"time"

	"github.com/pgledger/auditor/pkg/ledger"
)

// Store is the subset of *ledger.Store the forensic scanner needs.
type Store interface {
	StreamEntries(ctx context.Context, tableName string, filter ledger.EntryFilter) ([]ledger.Entry, error)
}

// Anomaly types, matching the checkpoint table's taxonomy plus two entries
// (missing_payload, per_id_time_rewind) supplemented from the original's
// per-entity rewind check and this ledger's own nullable-payload invariant.
const (
	AnomalyTxOrderGap        = "tx_order_gap"
	AnomalyTimestampRewind   = "timestamp_non_monotonic"
	AnomalyDuplicateTxID     = "duplicate_tx_id"
	AnomalyHashChainMismatch = "hash_chain_mismatch"
	AnomalyMissingPayload    = "missing_payload"
	AnomalyPerIDTimeRewind   = "per_id_time_rewind"
)

var riskWeight = map[string]int{
	AnomalyTxOrderGap:        50,
	AnomalyDuplicateTxID:     40,
	AnomalyTimestampRewind:   30,
	AnomalyHashChainMismatch: 60,
}

const defaultWeight = 10
const maxRiskScore = 100

// Severity buckets, derived from an anomaly's weight so callers can filter
// a report without re-deriving the weight map themselves.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Anomaly is a single finding surfaced by Scan.
type Anomaly struct {
	Type     string
	Detail   string
	Severity string
	TxOrder  int64
}

// Report is the forensic scan result for one table.
type Report struct {
	Table       string
	RowsScanned int
	Anomalies   []Anomaly
	RiskScore   int
	GeneratedAt time.Time
}

// Scanner runs anomaly detection over a table's ledger history.
type Scanner struct {
	store Store
}

// NewScanner wraps a ledger store.
func NewScanner(store Store) *Scanner {
	return &Scanner{store: store}
}

// Scan walks tableName's entries once in tx_order and reports every
// anomaly found: tx_order gaps, timestamp rewinds (global and per-record),
// duplicate tx_ids, chain-hash mismatches, and entries whose payloads are
// both nil (an INSERT/UPDATE/DELETE with no visible effect, which should
// never occur from a correctly operating trigger).
func (s *Scanner) Scan(ctx context.Context, tableName string) (*Report, error) {
	entries, err := s.store.StreamEntries(ctx, tableName, ledger.EntryFilter{})
	if err != nil {
		return nil, fmt.Errorf("stream entries: %w", err)
	}

	report := &Report{Table: tableName, GeneratedAt: time.Now().UTC()}
	if len(entries) == 0 {
		return report, nil
	}

	seenTxIDs := make(map[string]bool, len(entries))
	lastSeenByRecord := make(map[string]time.Time, len(entries))
	var prevTxOrder int64
	var prevCreatedAt time.Time
	var prevChainHash string

	for i, e := range entries {
		report.RowsScanned++

		if prevTxOrder > 0 && e.TxOrder != prevTxOrder+1 {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyTxOrderGap, e.TxOrder,
				fmt.Sprintf("gap in tx_order: jumped from %d to %d", prevTxOrder, e.TxOrder)))
		}

		if i > 0 && e.CreatedAt.Before(prevCreatedAt) {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyTimestampRewind, e.TxOrder,
				fmt.Sprintf("timestamp rewind: %s before previous %s", e.CreatedAt, prevCreatedAt)))
		}

		if last, ok := lastSeenByRecord[e.RecordID]; ok && !e.CreatedAt.After(last) {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyPerIDTimeRewind, e.TxOrder,
				fmt.Sprintf("record %s: timestamp %s does not advance past last-seen %s", e.RecordID, e.CreatedAt, last)))
		}
		lastSeenByRecord[e.RecordID] = e.CreatedAt

		if seenTxIDs[e.TxID] {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyDuplicateTxID, e.TxOrder,
				fmt.Sprintf("duplicate tx_id %s", e.TxID)))
		}
		seenTxIDs[e.TxID] = true

		if e.OldPayload == nil && e.NewPayload == nil {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyMissingPayload, e.TxOrder,
				"both old_payload and new_payload are nil"))
		}

		if i > 0 && e.PrevHash != prevChainHash {
			report.Anomalies = append(report.Anomalies, anomaly(AnomalyHashChainMismatch, e.TxOrder,
				fmt.Sprintf("prev_hash %s does not match predecessor's chain_hash %s", e.PrevHash, prevChainHash)))
		}

		prevTxOrder = e.TxOrder
		prevCreatedAt = e.CreatedAt
		prevChainHash = e.ChainHash
	}

	report.RiskScore = riskScore(report.Anomalies)
	return report, nil
}

func anomaly(kind string, txOrder int64, detail string) Anomaly {
	return Anomaly{Type: kind, Detail: detail, Severity: severityOf(kind), TxOrder: txOrder}
}

func weightOf(kind string) int {
	if w, ok := riskWeight[kind]; ok {
		return w
	}
	return defaultWeight
}

func severityOf(kind string) string {
	switch {
	case weightOf(kind) >= 50:
		return SeverityHigh
	case weightOf(kind) >= 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func riskScore(anomalies []Anomaly) int {
	score := 0
	for _, a := range anomalies {
		score += weightOf(a.Type)
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}
