package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedPair(t *testing.T, dir, commonName string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		DNSNames:     []string{commonName},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	certOut, err := os.Create(filepath.Join(dir, "cert.pem"))
	if err != nil {
		t.Fatal(err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatal(err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyOut, err := os.Create(filepath.Join(dir, "key.pem"))
	if err != nil {
		t.Fatal(err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatal(err)
	}
}

func TestBuildAndLookupExactAndWildcard(t *testing.T) {
	root := t.TempDir()
	writeSelfSignedPair(t, filepath.Join(root, "server", "default"), "default")
	writeSelfSignedPair(t, filepath.Join(root, "server", "sni", "a.example.com"), "a.example.com")
	writeSelfSignedPair(t, filepath.Join(root, "server", "wildcard", "example.com"), "*.example.com")

	snap, err := Build(root, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, ok := snap.Lookup("a.example.com"); !ok {
		t.Fatal("expected exact match for a.example.com")
	}
	if _, ok := snap.Lookup("b.example.com"); !ok {
		t.Fatal("expected wildcard match for b.example.com")
	}
	if _, ok := snap.Lookup("unrelated.net"); ok {
		t.Fatal("expected no match for unrelated.net")
	}
}

func TestBuildSkipsDirectoryMissingPartnerFile(t *testing.T) {
	root := t.TempDir()
	lonely := filepath.Join(root, "server", "sni", "broken.example.com")
	if err := os.MkdirAll(lonely, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lonely, "cert.pem"), []byte("not a real cert but present"), 0o644); err != nil {
		t.Fatal(err)
	}
	// key.pem intentionally absent.

	snap, err := Build(root, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := snap.Lookup("broken.example.com"); ok {
		t.Fatal("a cert directory missing its key partner must be skipped, not loaded")
	}
}

func TestFingerprintChangesWhenFileAdded(t *testing.T) {
	root := t.TempDir()
	writeSelfSignedPair(t, filepath.Join(root, "server", "default"), "default")

	fp1, err := Fingerprint(root)
	if err != nil {
		t.Fatal(err)
	}

	writeSelfSignedPair(t, filepath.Join(root, "server", "sni", "new.example.com"), "new.example.com")
	fp2, err := Fingerprint(root)
	if err != nil {
		t.Fatal(err)
	}
	if fp1 == fp2 {
		t.Fatal("fingerprint should change after adding a cert directory")
	}
}

func TestFingerprintStableWithNoChanges(t *testing.T) {
	root := t.TempDir()
	writeSelfSignedPair(t, filepath.Join(root, "server", "default"), "default")

	fp1, err := Fingerprint(root)
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := Fingerprint(root)
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Fatal("fingerprint should be stable when nothing changes")
	}
}
