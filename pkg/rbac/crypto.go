package rbac

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Salt is the fixed, module-level salt for key derivation (spec.md
// §4.2). It is not a secret — it exists only to separate this derivation
// from any other PBKDF2 use of the same passphrase — so it is safe to be a
// compile-time constant rather than configuration.
const pbkdf2Salt = "rbac-field-encryption-salt-v1"

const (
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 64 // 32 bytes cipher key + 32 bytes MAC key
)

// FieldCipher implements the deterministic field-level encryption described
// in spec.md §4.2: for a fixed key, encrypt is a pure function of its
// input, which lets the Store filter on encrypted columns by equality
// (invariant I3). It derives its cipher and MAC keys from a single
// passphrase using PBKDF2-HMAC-SHA256, following the same derive-then-split
// pattern the pack uses for password-based key material (see
// SPEC_FULL.md §4.2: grounded on other_examples/29eee6d8_..._auth.go.go).
//
// decrypt fails open: a malformed ciphertext is logged and returned
// unchanged rather than propagated as an error, to avoid cascading outages
// on a single corrupt row (explicit trade-off, spec.md §9).
type FieldCipher struct {
	enabled   bool
	cipherKey []byte
	macKey    []byte
}

// NewFieldCipher derives a FieldCipher from passphrase. When enabled is
// false, the returned cipher's Encrypt/Decrypt are the identity function —
// this is how ENABLE_ENCRYPTION=false is honored without branching at every
// call site.
func NewFieldCipher(passphrase string, enabled bool) *FieldCipher {
	if !enabled || passphrase == "" {
		return &FieldCipher{enabled: false}
	}

	derived := pbkdf2.Key([]byte(passphrase), []byte(pbkdf2Salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return &FieldCipher{
		enabled:   true,
		cipherKey: derived[:32],
		macKey:    derived[32:],
	}
}

// Encrypt returns base64(iv || ciphertext) where iv is the first 16 bytes
// of HMAC-SHA256(macKey, plaintext), making the whole encryption
// deterministic: equal plaintexts always encrypt to equal ciphertexts.
func (f *FieldCipher) Encrypt(plaintext string) string {
	if !f.enabled || plaintext == "" {
		return plaintext
	}

	h := hmac.New(sha256.New, f.macKey)
	h.Write([]byte(plaintext))
	iv := h.Sum(nil)[:aes.BlockSize]

	block, err := aes.NewCipher(f.cipherKey)
	if err != nil {
		log.Printf("rbac: encryption failed, storing plaintext: %v", err)
		return plaintext
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...))
}

// Decrypt reverses Encrypt. On any failure it logs and returns the input
// unchanged (fail-open, spec.md §4.2/§9).
func (f *FieldCipher) Decrypt(stored string) string {
	if !f.enabled || stored == "" {
		return stored
	}

	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(raw) < aes.BlockSize {
		log.Printf("rbac: decryption failed (malformed ciphertext), returning input unchanged")
		return stored
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]

	block, err := aes.NewCipher(f.cipherKey)
	if err != nil {
		log.Printf("rbac: decryption failed: %v", err)
		return stored
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	return string(plaintext)
}

// Enabled reports whether this cipher performs real encryption or is acting
// as the identity function.
func (f *FieldCipher) Enabled() bool { return f.enabled }

func (f *FieldCipher) String() string {
	if f.enabled {
		return "FieldCipher(enabled)"
	}
	return "FieldCipher(disabled)"
}
