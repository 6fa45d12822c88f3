package forensic

import (
	"context"
	"testing"
	"time"

	"github.com/pgledger/auditor/pkg/ledger"
)

type fakeStore struct {
	entries []ledger.Entry
}

func (f *fakeStore) StreamEntries(ctx context.Context, tableName string, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return f.entries, nil
}

func TestScanCleanChainNoAnomalies(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		{TxOrder: 1, TxID: "tx1", RecordID: "1", CreatedAt: base, PrevHash: "genesis", ChainHash: "h1"},
		{TxOrder: 2, TxID: "tx2", RecordID: "2", CreatedAt: base.Add(time.Second), PrevHash: "h1", ChainHash: "h2"},
	}
	for i := range entries {
		entries[i].NewPayload = map[string]interface{}{"name": "x"}
	}
	s := NewScanner(&fakeStore{entries: entries})

	report, err := s.Scan(context.Background(), "accounts")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %+v", report.Anomalies)
	}
	if report.RiskScore != 0 {
		t.Fatalf("expected risk score 0, got %d", report.RiskScore)
	}
}

func TestScanDetectsGapAndDuplicateTxID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		{TxOrder: 1, TxID: "tx1", RecordID: "1", CreatedAt: base, NewPayload: map[string]interface{}{"a": 1}},
		{TxOrder: 2, TxID: "tx2", RecordID: "2", CreatedAt: base.Add(time.Second), NewPayload: map[string]interface{}{"a": 2}},
		{TxOrder: 4, TxID: "tx2", RecordID: "3", CreatedAt: base.Add(2 * time.Second), NewPayload: map[string]interface{}{"a": 3}},
	}
	s := NewScanner(&fakeStore{entries: entries})

	report, err := s.Scan(context.Background(), "accounts")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	kinds := map[string]int{}
	for _, a := range report.Anomalies {
		kinds[a.Type]++
	}
	if kinds[AnomalyTxOrderGap] != 1 {
		t.Fatalf("expected 1 tx_order_gap, got %d", kinds[AnomalyTxOrderGap])
	}
	if kinds[AnomalyDuplicateTxID] != 1 {
		t.Fatalf("expected 1 duplicate_tx_id, got %d", kinds[AnomalyDuplicateTxID])
	}
	if report.RiskScore != 90 {
		t.Fatalf("expected risk score 90 (50+40), got %d", report.RiskScore)
	}
}

func TestScanDetectsMissingPayload(t *testing.T) {
	entries := []ledger.Entry{
		{TxOrder: 1, TxID: "tx1", RecordID: "1", CreatedAt: time.Now()},
	}
	s := NewScanner(&fakeStore{entries: entries})

	report, err := s.Scan(context.Background(), "accounts")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	found := false
	for _, a := range report.Anomalies {
		if a.Type == AnomalyMissingPayload {
			found = true
		}
	}
	if !found {
		t.Fatal("expected missing_payload anomaly")
	}
}

func TestScanEmptyTable(t *testing.T) {
	s := NewScanner(&fakeStore{})
	report, err := s.Scan(context.Background(), "accounts")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.RowsScanned != 0 || report.RiskScore != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestRiskScoreClampedTo100(t *testing.T) {
	anomalies := []Anomaly{
		{Type: AnomalyHashChainMismatch},
		{Type: AnomalyTxOrderGap},
		{Type: AnomalyDuplicateTxID},
	}
	if got := riskScore(anomalies); got != maxRiskScore {
		t.Fatalf("expected clamp to %d, got %d", maxRiskScore, got)
	}
}
