package security

import (
	"errors"
	"testing"
)

func TestCredentialCipherRoundTrip(t *testing.T) {
	c, err := NewCredentialCipher("master-key-for-tests")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}

	for _, plaintext := range []string{"", "api-secret-123", `{"username":"u","password":"p"}`} {
		token, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if token == plaintext && plaintext != "" {
			t.Errorf("Encrypt(%q) returned the plaintext", plaintext)
		}
		got, err := c.Decrypt(token)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestCredentialCipherNoncesDiffer(t *testing.T) {
	c, err := NewCredentialCipher("master-key-for-tests")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	a, _ := c.Encrypt("same secret")
	b, _ := c.Encrypt("same secret")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical tokens")
	}
}

func TestCredentialCipherRejectsTampering(t *testing.T) {
	c, err := NewCredentialCipher("master-key-for-tests")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	token, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := []byte(token)
	if tampered[len(tampered)-5] == 'A' {
		tampered[len(tampered)-5] = 'B'
	} else {
		tampered[len(tampered)-5] = 'A'
	}

	for name, bad := range map[string]string{
		"tampered":   string(tampered),
		"not base64": "!!!not-base64!!!",
		"truncated":  token[:8],
	} {
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("%s: err = %v, want ErrInvalidCiphertext", name, err)
		}
	}
}

func TestCredentialCipherWrongKey(t *testing.T) {
	a, err := NewCredentialCipher("key-one")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	b, err := NewCredentialCipher("key-two")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}

	token, err := a.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(token); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("foreign key decrypt err = %v, want ErrInvalidCiphertext", err)
	}
}

func TestNewCredentialCipherRequiresKey(t *testing.T) {
	if _, err := NewCredentialCipher(""); err == nil {
		t.Error("empty master key accepted")
	}
}

func TestCleanCredential(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc123", "abc123"},
		{"surrounding whitespace", "  abc123  ", "abc123"},
		{"carriage return", "abc123\r\n", "abc123"},
		{"zero width space", "abc​123", "abc123"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCredential(tt.in); got != tt.want {
				t.Errorf("CleanCredential(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
