package signer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIngestSignatureIsDeterministic(t *testing.T) {
	s, err := New("topsecret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := s.Ingest("device-1", "2026-08-23T10:00:00+02:00")
	b := s.Ingest("device-1", "2026-08-23T10:00:00+02:00")
	if a != b {
		t.Errorf("same inputs produced different signatures: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestIngestSignatureKnownVector(t *testing.T) {
	// HMAC-SHA256("secret", "devts") precomputed.
	s, _ := New("secret")
	got := s.Ingest("dev", "ts")
	want := "325991e7bf5787c064e076712cc2e2342140b917272a04c2f80b423349f39bc1"
	if got != want {
		t.Errorf("signature mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestSignatureDependsOnSecret(t *testing.T) {
	s1, _ := New("alpha")
	s2, _ := New("beta")
	if s1.Ingest("dev", "ts") == s2.Ingest("dev", "ts") {
		t.Error("different secrets produced identical signatures")
	}
}

func TestRegistrationSignatureBindsNonce(t *testing.T) {
	s, _ := New("topsecret")
	if s.Registration("sensor", "nonce-a") == s.Registration("sensor", "nonce-b") {
		t.Error("different nonces produced identical signatures")
	}
}

func TestNewNonceIsFreshPerAttempt(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		n := NewNonce()
		if n == "" {
			t.Fatal("empty nonce")
		}
		if seen[n] {
			t.Fatalf("nonce %s repeated", n)
		}
		seen[n] = true
	}
}

func TestLoadSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.bin")

	if _, err := LoadSecret(path); err == nil {
		t.Error("expected error for missing secret file")
	}

	os.WriteFile(path, []byte("  \n"), 0o600)
	if _, err := LoadSecret(path); err == nil {
		t.Error("expected error for blank secret file")
	}

	os.WriteFile(path, []byte("hunter2\n"), 0o600)
	secret, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if secret != "hunter2" {
		t.Errorf("expected trimmed secret, got %q", secret)
	}
}
