package seal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	plain := []byte(`{"window":"inbox - mail","url":"https://example.com"}`)
	blob := s.Seal(plain)
	if bytes.Contains(blob, []byte("example.com")) {
		t.Error("Sealed blob leaks plaintext")
	}

	got, err := s.Open(blob)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Round-trip mismatch: %s", got)
	}
}

func TestSealer_DistinctNonces(t *testing.T) {
	s, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := s.Seal([]byte("same"))
	b := s.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("Two seals of the same payload produced identical blobs")
	}
}

func TestSealer_WrongKeyFails(t *testing.T) {
	s1, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s2, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	blob := s1.Seal([]byte("secret"))
	if _, err := s2.Open(blob); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("Expected ErrInvalidBlob, got %v", err)
	}
}

func TestSealer_TruncatedBlob(t *testing.T) {
	s, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Open([]byte("short")); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("Expected ErrInvalidBlob, got %v", err)
	}

	blob := s.Seal([]byte("payload"))
	if _, err := s.Open(blob[:len(blob)-1]); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("Expected ErrInvalidBlob on damaged blob, got %v", err)
	}
}

func TestSealer_RejectsBadKeySize(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Error("Expected error for 16-byte key")
	}
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil key")
	}
}
