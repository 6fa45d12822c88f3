package signer

import (
	"path/filepath"
	"testing"
)

func TestRSASignerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRSASigner("signer-a", filepath.Join(dir, "key.pem"))
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}

	root := "a1b2c3"
	sig, err := s.Sign(root)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.Verify(root, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := s.Verify("different-root", sig); err == nil {
		t.Fatal("expected verification failure for tampered root")
	}
}

func TestRSASignerPersistsKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")

	s1, err := NewRSASigner("signer-a", keyPath)
	if err != nil {
		t.Fatalf("first NewRSASigner: %v", err)
	}
	s2, err := NewRSASigner("signer-a", keyPath)
	if err != nil {
		t.Fatalf("second NewRSASigner: %v", err)
	}
	if s1.Fingerprint() != s2.Fingerprint() {
		t.Fatal("reloaded signer has a different fingerprint than the persisted key")
	}
}

func TestBLSSignerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBLSSigner("signer-b", filepath.Join(dir, "bls.key"))
	if err != nil {
		t.Fatalf("NewBLSSigner: %v", err)
	}

	root := "deadbeef"
	sig, err := s.Sign(root)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.Verify(root, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := s.Verify("tampered", sig); err == nil {
		t.Fatal("expected verification failure for tampered root")
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New("unknown", "id", "path"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
