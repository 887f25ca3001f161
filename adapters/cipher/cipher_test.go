package cipher_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/artpar/netbill/adapters/cipher"
)

const hexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newCipher(t *testing.T) *cipher.AES {
	t.Helper()
	c, err := cipher.New(hexKey)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestNew_NoKey(t *testing.T) {
	if _, err := cipher.New(""); !errors.Is(err, cipher.ErrNoKey) {
		t.Errorf("New(\"\") error = %v, want ErrNoKey", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c := newCipher(t)

	for _, plain := range []string{"a", "secret123", "exactly16bytes!!", "pässwörd with spaces", strings.Repeat("x", 100)} {
		enc, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", plain, err)
		}
		if enc == plain {
			t.Errorf("Encrypt(%q) returned plaintext", plain)
		}
		if !c.IsEncrypted(enc) {
			t.Errorf("IsEncrypted(%q) = false", enc)
		}

		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if dec != plain {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", plain, dec)
		}
	}
}

func TestEncrypt_WireFormat(t *testing.T) {
	c := newCipher(t)

	enc, err := c.Encrypt("secret123")
	if err != nil {
		t.Fatal(err)
	}
	iv, ct, ok := strings.Cut(enc, ":")
	if !ok {
		t.Fatalf("encrypted value %q has no separator", enc)
	}
	if len(iv) != 32 {
		t.Errorf("iv hex length = %d, want 32", len(iv))
	}
	if len(ct) != 32 {
		t.Errorf("ciphertext hex length = %d, want 32 for a 9-byte plaintext", len(ct))
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	c := newCipher(t)

	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestEmptyString(t *testing.T) {
	c := newCipher(t)

	enc, err := c.Encrypt("")
	if err != nil || enc != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want \"\", nil", enc, err)
	}
	dec, err := c.Decrypt("")
	if err != nil || dec != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; want \"\", nil", dec, err)
	}
}

func TestDecrypt_PlaintextPassthrough(t *testing.T) {
	c := newCipher(t)

	for _, legacy := range []string{"secret123", "pass:word", "abc:def"} {
		got, err := c.Decrypt(legacy)
		if err != nil {
			t.Errorf("Decrypt(%q) error: %v", legacy, err)
		}
		if got != legacy {
			t.Errorf("Decrypt(%q) = %q, want unchanged", legacy, got)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc, _ := newCipher(t).Encrypt("secret123")

	other, err := cipher.New("a different passphrase")
	if err != nil {
		t.Fatal(err)
	}
	got, err := other.Decrypt(enc)
	if err == nil && got == "secret123" {
		t.Error("decrypting with a different key should not recover the plaintext")
	}
}

func TestNew_KeyForms(t *testing.T) {
	raw32 := strings.Repeat("k", 32)
	for _, key := range []string{hexKey, raw32, "short passphrase"} {
		c, err := cipher.New(key)
		if err != nil {
			t.Fatalf("New(%q) error: %v", key, err)
		}
		enc, _ := c.Encrypt("v")
		if dec, _ := c.Decrypt(enc); dec != "v" {
			t.Errorf("key %q: round trip = %q", key, dec)
		}
	}
}

func TestPlain(t *testing.T) {
	var p cipher.Plain
	enc, _ := p.Encrypt("x")
	dec, _ := p.Decrypt(enc)
	if enc != "x" || dec != "x" || p.IsEncrypted(enc) {
		t.Errorf("Plain round trip = %q/%q", enc, dec)
	}
}
