package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)

	sealed, err := EncryptString(key, "access-token")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == "access-token" {
		t.Fatal("plaintext stored")
	}
	again, _ := EncryptString(key, "access-token")
	if again == sealed {
		t.Fatal("nonce reused")
	}

	got, err := DecryptString(key, sealed)
	if err != nil || got != "access-token" {
		t.Fatalf("got %q, %v", got, err)
	}

	other := bytes.Repeat([]byte{8}, KeySize)
	if _, err := DecryptString(other, sealed); err == nil {
		t.Fatal("decrypted with the wrong key")
	}
}

func TestEmptyAndBadKeys(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	if s, err := EncryptString(key, ""); err != nil || s != "" {
		t.Fatalf("empty: %q %v", s, err)
	}
	if _, err := EncryptString([]byte("short"), "x"); err == nil {
		t.Fatal("short key accepted")
	}
	if _, err := DecryptString(key, base64.StdEncoding.EncodeToString([]byte("abc"))); err == nil {
		t.Fatal("short ciphertext accepted")
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString(key)); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("abc"))); err == nil {
		t.Fatal("short key parsed")
	}
}
