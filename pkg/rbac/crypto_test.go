package rbac

import "testing"

func TestFieldCipherDisabledIsIdentity(t *testing.T) {
	c := NewFieldCipher("irrelevant", false)
	if c.Enabled() {
		t.Fatal("cipher constructed with enabled=false reports Enabled() == true")
	}

	in := "alice@example.com"
	if got := c.Encrypt(in); got != in {
		t.Errorf("Encrypt(%q) with disabled cipher = %q, want unchanged", in, got)
	}
	if got := c.Decrypt(in); got != in {
		t.Errorf("Decrypt(%q) with disabled cipher = %q, want unchanged", in, got)
	}
}

func TestFieldCipherEmptyPassphraseDisables(t *testing.T) {
	c := NewFieldCipher("", true)
	if c.Enabled() {
		t.Fatal("cipher constructed with empty passphrase reports Enabled() == true")
	}
}

func TestFieldCipherRoundTrip(t *testing.T) {
	c := NewFieldCipher("correct horse battery staple", true)

	for _, plaintext := range []string{"alice", "users:write", "bob@example.com", "a long permission name with spaces"} {
		enc := c.Encrypt(plaintext)
		if enc == plaintext {
			t.Errorf("Encrypt(%q) returned plaintext unchanged while enabled", plaintext)
		}
		dec := c.Decrypt(enc)
		if dec != plaintext {
			t.Errorf("round trip: Decrypt(Encrypt(%q)) = %q", plaintext, dec)
		}
	}
}

func TestFieldCipherEmptyStringPassesThrough(t *testing.T) {
	c := NewFieldCipher("correct horse battery staple", true)
	if got := c.Encrypt(""); got != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", got)
	}
	if got := c.Decrypt(""); got != "" {
		t.Errorf("Decrypt(\"\") = %q, want empty", got)
	}
}

// Deterministic encryption is what lets the store filter ciphertext columns
// by equality (WHERE name = ?) instead of decrypting every row.
func TestFieldCipherIsDeterministic(t *testing.T) {
	c := NewFieldCipher("correct horse battery staple", true)

	first := c.Encrypt("alice")
	second := c.Encrypt("alice")
	if first != second {
		t.Errorf("Encrypt(\"alice\") is not deterministic: %q != %q", first, second)
	}

	other := c.Encrypt("bob")
	if first == other {
		t.Error("Encrypt produced the same ciphertext for different plaintexts")
	}
}

func TestFieldCipherDifferentKeysProduceDifferentCiphertext(t *testing.T) {
	a := NewFieldCipher("passphrase-one", true)
	b := NewFieldCipher("passphrase-two", true)

	if a.Encrypt("alice") == b.Encrypt("alice") {
		t.Error("two ciphers derived from different passphrases produced identical ciphertext")
	}
}

func TestFieldCipherDecryptFailsOpenOnMalformedInput(t *testing.T) {
	c := NewFieldCipher("correct horse battery staple", true)

	malformed := "not-valid-base64-ciphertext!!"
	if got := c.Decrypt(malformed); got != malformed {
		t.Errorf("Decrypt(malformed) = %q, want input returned unchanged", got)
	}
}

func TestFieldCipherString(t *testing.T) {
	if got := NewFieldCipher("x", false).String(); got != "FieldCipher(disabled)" {
		t.Errorf("String() on disabled cipher = %q", got)
	}
	if got := NewFieldCipher("x", true).String(); got != "FieldCipher(enabled)" {
		t.Errorf("String() on enabled cipher = %q", got)
	}
}
