package syncedstore

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestNewCipher(t *testing.T) {
	t.Run("empty suite defaults to AES-CBC", func(t *testing.T) {
		c, err := NewCipher("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Suite() != SuiteAESCBC {
			t.Errorf("expected %s, got %s", SuiteAESCBC, c.Suite())
		}
	})

	t.Run("unknown suite is rejected", func(t *testing.T) {
		if _, err := NewCipher("rot13"); err == nil {
			t.Error("expected error for unknown suite")
		}
	})
}

func TestCipherRoundTrip(t *testing.T) {
	for _, suite := range []string{SuiteAESCBC, SuiteXChaCha} {
		t.Run(suite, func(t *testing.T) {
			c, err := NewCipher(suite)
			if err != nil {
				t.Fatalf("failed to create cipher: %v", err)
			}
			key, err := c.GenerateKey(keyLengthBits)
			if err != nil {
				t.Fatalf("failed to generate key: %v", err)
			}
			iv := make([]byte, c.IVSize())
			if _, err := rand.Read(iv); err != nil {
				t.Fatalf("failed to generate IV: %v", err)
			}

			plaintext := []byte(`{"entries":{"token":"value"}}`)
			ciphertext, err := c.Encrypt(plaintext, key, iv)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			if bytes.Contains(ciphertext, plaintext) {
				t.Error("ciphertext contains plaintext")
			}

			decrypted, err := c.Decrypt(ciphertext, key, iv)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Errorf("round trip mismatch: got %q", decrypted)
			}
		})
	}
}

func TestCipherRejectsBadInput(t *testing.T) {
	t.Run("CBC rejects truncated ciphertext", func(t *testing.T) {
		c, _ := NewCipher(SuiteAESCBC)
		key, _ := c.GenerateKey(keyLengthBits)
		iv := make([]byte, c.IVSize())

		if _, err := c.Decrypt([]byte("short"), key, iv); err == nil {
			t.Error("expected error for non-block-aligned ciphertext")
		}
		if _, err := c.Decrypt(nil, key, iv); err == nil {
			t.Error("expected error for empty ciphertext")
		}
	})

	t.Run("CBC rejects wrong IV length", func(t *testing.T) {
		c, _ := NewCipher(SuiteAESCBC)
		key, _ := c.GenerateKey(keyLengthBits)

		if _, err := c.Encrypt([]byte("data"), key, make([]byte, 8)); err == nil {
			t.Error("expected error for short IV")
		}
	})

	t.Run("AEAD detects tampering", func(t *testing.T) {
		c, _ := NewCipher(SuiteXChaCha)
		key, _ := c.GenerateKey(keyLengthBits)
		iv := make([]byte, c.IVSize())

		ciphertext, err := c.Encrypt([]byte("data"), key, iv)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		ciphertext[0] ^= 0xff
		if _, err := c.Decrypt(ciphertext, key, iv); err == nil {
			t.Error("expected authentication failure on tampered ciphertext")
		}
	})
}

func TestGenerateKeyMaterial(t *testing.T) {
	t.Run("rejects invalid lengths", func(t *testing.T) {
		for _, bits := range []int{0, -8, 7} {
			if _, err := generateKeyMaterial(bits); err == nil {
				t.Errorf("expected error for %d bits", bits)
			}
		}
	})

	t.Run("distinct keys per call", func(t *testing.T) {
		a, err := generateKeyMaterial(keyLengthBits)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		b, err := generateKeyMaterial(keyLengthBits)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if bytes.Equal(a, b) {
			t.Error("two generated keys are identical")
		}
	})
}

func TestIsWeakKey(t *testing.T) {
	cases := []struct {
		name string
		key  []byte
		weak bool
	}{
		{"too short", make([]byte, 16), true},
		{"all zero", make([]byte, 32), true},
		{"all same", bytes.Repeat([]byte{0xAB}, 32), true},
		{"low diversity", append(bytes.Repeat([]byte{1}, 16), bytes.Repeat([]byte{2}, 16)...), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isWeakKey(tc.key); got != tc.weak {
				t.Errorf("isWeakKey = %v, want %v", got, tc.weak)
			}
		})
	}

	t.Run("random key passes", func(t *testing.T) {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			t.Fatalf("rand: %v", err)
		}
		// A CSPRNG output with fewer than 16 distinct bytes is effectively
		// impossible; regenerate rather than flake if it ever happens.
		for isWeakKey(key) {
			if _, err := rand.Read(key); err != nil {
				t.Fatalf("rand: %v", err)
			}
		}
	})
}

func TestPKCS7Padding(t *testing.T) {
	t.Run("pad always appends at least one byte", func(t *testing.T) {
		data := bytes.Repeat([]byte{0}, 16)
		padded := pkcs7Pad(data, 16)
		if len(padded) != 32 {
			t.Errorf("expected full padding block, got %d bytes", len(padded))
		}
	})

	t.Run("unpad rejects corrupt padding", func(t *testing.T) {
		data := append(bytes.Repeat([]byte{0}, 15), 0x11)
		if _, err := pkcs7Unpad(data, 16); err == nil || !strings.Contains(err.Error(), "padding") {
			t.Errorf("expected padding error, got %v", err)
		}
	})
}

func TestEnvelope(t *testing.T) {
	c, err := NewCipher(SuiteXChaCha)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	key, err := c.GenerateKey(keyLengthBits)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	t.Run("seal and open round trip", func(t *testing.T) {
		entries := map[string]string{"a": "1", "b": ""}
		blob, err := sealEntries(c, key, entries)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		got, err := openEnvelope(c, key, blob)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if len(got) != 2 || got["a"] != "1" || got["b"] != "" {
			t.Errorf("round trip mismatch: %v", got)
		}
	})

	t.Run("empty map round trips to empty map", func(t *testing.T) {
		blob, err := sealEntries(c, key, map[string]string{})
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		got, err := openEnvelope(c, key, blob)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty map, got %v", got)
		}
	})

	t.Run("wrong key fails to open", func(t *testing.T) {
		blob, err := sealEntries(c, key, map[string]string{"a": "1"})
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		other, err := c.GenerateKey(keyLengthBits)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		if _, err := openEnvelope(c, other, blob); err == nil {
			t.Error("expected decrypt failure with the wrong key")
		}
	})

	t.Run("malformed JSON is a distinct error", func(t *testing.T) {
		if _, err := openEnvelope(c, key, "{truncated"); err == nil || !strings.Contains(err.Error(), "malformed blob envelope") {
			t.Errorf("expected malformed envelope error, got %v", err)
		}
	})

	t.Run("unknown envelope version is rejected", func(t *testing.T) {
		if _, err := openEnvelope(c, key, `{"version":99,"suite":"xchacha20-poly1305","iv":"","ciphertext":""}`); err == nil || !strings.Contains(err.Error(), "version") {
			t.Errorf("expected version error, got %v", err)
		}
	})

	t.Run("suite mismatch is rejected before decryption", func(t *testing.T) {
		blob, err := sealEntries(c, key, map[string]string{"a": "1"})
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}
		aesCipher, _ := NewCipher(SuiteAESCBC)
		if _, err := openEnvelope(aesCipher, key, blob); err == nil || !strings.Contains(err.Error(), "suite") {
			t.Errorf("expected suite mismatch error, got %v", err)
		}
	})
}
