package auth

import (
	"encoding/hex"
	"testing"
)

func TestMintSecret(t *testing.T) {
	secret, err := MintSecret()
	if err != nil {
		t.Fatalf("MintSecret failed: %v", err)
	}
	if len(secret) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(secret))
	}
	if _, err := hex.DecodeString(secret); err != nil {
		t.Errorf("secret is not valid hex: %v", err)
	}

	other, err := MintSecret()
	if err != nil {
		t.Fatalf("MintSecret failed: %v", err)
	}
	if secret == other {
		t.Error("two minted secrets should not be equal")
	}
}

func TestHashAndCheckSecret(t *testing.T) {
	secret := "correct horse battery staple"

	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}
	if hash == secret {
		t.Fatal("hash must not equal the raw secret")
	}

	if !CheckSecret(secret, hash) {
		t.Error("CheckSecret should accept the original secret")
	}
	if CheckSecret("wrong secret", hash) {
		t.Error("CheckSecret should reject a wrong secret")
	}
	if CheckSecret("", hash) {
		t.Error("CheckSecret should reject an empty secret")
	}
}

func TestHashSecretFreshSalt(t *testing.T) {
	secret := "same secret"

	h1, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}
	h2, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret failed: %v", err)
	}
	if h1 == h2 {
		t.Error("hashing the same secret twice should embed different salts")
	}
}
