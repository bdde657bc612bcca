package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	plaintext := []byte(`{"api_key":"sk_test_123"}`)
	encrypted, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("round-trip failed: got %q, want %q", decrypted, plaintext)
	}
}

func TestEmptyPlaintext(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	encrypted, err := Encrypt([]byte(""), key)
	if err != nil {
		t.Fatalf("Encrypt empty: %v", err)
	}

	decrypted, err := Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt empty: %v", err)
	}

	if len(decrypted) != 0 {
		t.Fatalf("expected empty plaintext, got %q", decrypted)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	encrypted, err := Encrypt([]byte("secret"), key1)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(encrypted, key2); err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
}

func TestTamperedCiphertextRejected(t *testing.T) {
	key, _ := GenerateKey()

	encrypted, err := Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	data, _ := base64.StdEncoding.DecodeString(encrypted)
	// Flip a byte in the ciphertext portion.
	data[len(data)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(data)

	if _, err := Decrypt(tampered, key); err == nil {
		t.Fatal("expected error decrypting tampered ciphertext")
	}
}

func TestGarbageCiphertextRejected(t *testing.T) {
	key, _ := GenerateKey()

	if _, err := Decrypt("not base64!!!", key); err == nil {
		t.Fatal("expected error on invalid base64")
	}
	if _, err := Decrypt(base64.StdEncoding.EncodeToString([]byte("xx")), key); err == nil {
		t.Fatal("expected error on too-short ciphertext")
	}
}

func TestKeyHash_StableAndHex(t *testing.T) {
	a := KeyHash("cdt_abc")
	b := KeyHash("cdt_abc")
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if KeyHash("cdt_other") == a {
		t.Fatal("different secrets must not collide trivially")
	}
}
