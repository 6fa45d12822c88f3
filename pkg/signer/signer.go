// Package signer implements C10: signing and verifying checkpoint Merkle
// roots. Two backends are supported behind the same Signer interface: RSA
// PKCS#1 v1.5 over SHA-256 (the default, grounded on crypto/signer.py's
// sign_merkle_root) and BLS12-381 (pkg/crypto/bls), selected by
// config.Config.SignerBackend.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/pgledger/auditor/pkg/crypto/bls"
)

// ErrVerificationFailed means a signature did not validate against the
// claimed public key and message.
var ErrVerificationFailed = errors.New("signer: signature verification failed")

// Signer signs and verifies checkpoint root hashes. Implementations are
// expected to be safe for concurrent use.
type Signer interface {
	// SignerID identifies which signer produced a signature, stored
	// alongside it on the checkpoint row.
	SignerID() string
	// Fingerprint is a stable SHA-256 hex digest of the public key,
	// allowing a verifier to detect signer-key rotation.
	Fingerprint() string
	// Sign signs the hex-encoded root hash and returns a base64 signature.
	Sign(rootHash string) (string, error)
	// Verify checks a base64 signature over rootHash.
	Verify(rootHash string, signatureB64 string) error
}

// RSASigner implements Signer using RSA-2048 PKCS#1 v1.5 over SHA-256,
// matching the original maria_ledger signer exactly so a checkpoint signed
// by either implementation verifies under the other's public key.
type RSASigner struct {
	id         string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	pubPEM     []byte
}

// NewRSASigner loads a PEM-encoded RSA private key from keyPath. If keyPath
// does not exist, a new 2048-bit key is generated and persisted there.
func NewRSASigner(id, keyPath string) (*RSASigner, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("signer: RSA key path must not be empty")
	}

	if _, err := os.Stat(keyPath); err == nil {
		return loadRSASigner(id, keyPath)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	if err := savePEMPrivateKey(keyPath, key); err != nil {
		return nil, err
	}
	return newRSASigner(id, key)
}

func loadRSASigner(id, keyPath string) (*RSASigner, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read RSA key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signer: no PEM block found in %s", keyPath)
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed interface{}
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			key, ok = parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("signer: key in %s is not an RSA key", keyPath)
			}
		}
	default:
		return nil, fmt.Errorf("signer: unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse RSA private key: %w", err)
	}
	return newRSASigner(id, key)
}

func newRSASigner(id string, key *rsa.PrivateKey) (*RSASigner, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal RSA public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return &RSASigner{id: id, privateKey: key, publicKey: &key.PublicKey, pubPEM: pubPEM}, nil
}

func savePEMPrivateKey(path string, key *rsa.PrivateKey) error {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

// SignerID implements Signer.
func (s *RSASigner) SignerID() string { return s.id }

// Fingerprint is the SHA-256 hex digest of the signer's public key PEM
// bytes, matching utils/keys.py's public_key_fingerprint_pem_bytes.
func (s *RSASigner) Fingerprint() string {
	sum := sha256.Sum256(s.pubPEM)
	return hex.EncodeToString(sum[:])
}

// Sign signs rootHash with RSA PKCS#1 v1.5 over SHA-256 and returns a
// base64-encoded signature.
func (s *RSASigner) Sign(rootHash string) (string, error) {
	digest := sha256.Sum256([]byte(rootHash))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign root hash: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 PKCS#1 v1.5 signature over rootHash.
func (s *RSASigner) Verify(rootHash string, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(rootHash))
	if err := rsa.VerifyPKCS1v15(s.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return ErrVerificationFailed
	}
	return nil
}

// BLSSigner implements Signer using BLS12-381, an alternate backend to RSA
// for deployments that want constant-size, aggregatable checkpoint
// signatures (e.g. a fleet of auditors co-signing the same root).
type BLSSigner struct {
	id string
	km *bls.KeyManager
}

// NewBLSSigner loads (or generates and persists) a BLS key at keyPath.
func NewBLSSigner(id, keyPath string) (*BLSSigner, error) {
	km, err := bls.InitializeSignerKey(id, keyPath)
	if err != nil {
		return nil, err
	}
	return &BLSSigner{id: id, km: km}, nil
}

// SignerID implements Signer.
func (s *BLSSigner) SignerID() string { return s.id }

// Fingerprint implements Signer.
func (s *BLSSigner) Fingerprint() string {
	return s.km.GetPublicKey().Fingerprint()
}

// Sign implements Signer, signing with bls.DomainCheckpoint domain
// separation.
func (s *BLSSigner) Sign(rootHash string) (string, error) {
	sig, err := s.km.SignWithDomain([]byte(rootHash), bls.DomainCheckpoint)
	if err != nil {
		return "", fmt.Errorf("sign root hash: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig.Bytes()), nil
}

// Verify implements Signer.
func (s *BLSSigner) Verify(rootHash string, signatureB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sig, err := bls.SignatureFromBytes(raw)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if !s.km.GetPublicKey().VerifyWithDomain(sig, []byte(rootHash), bls.DomainCheckpoint) {
		return ErrVerificationFailed
	}
	return nil
}

// New constructs a Signer for the named backend ("rsa" or "bls"),
// loading or generating its key at keyPath.
func New(backend, id, keyPath string) (Signer, error) {
	switch backend {
	case "rsa", "":
		return NewRSASigner(id, keyPath)
	case "bls":
		return NewBLSSigner(id, keyPath)
	default:
		return nil, fmt.Errorf("signer: unknown backend %q", backend)
	}
}
