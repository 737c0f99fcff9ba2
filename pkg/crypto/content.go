package crypto

import "fmt"

// contentSalt is fixed so that a password-derived key is stable across
// restarts; deployments that care should set a hex key instead.
var contentSalt = []byte("static_salt_for_messages")

// ContentCipher encrypts message bodies at rest.
type ContentCipher struct {
	key []byte
}

// NewContentCipher builds a cipher from a 64 hex character key, or from
// password via PBKDF2 when hexKey is empty.
func NewContentCipher(hexKey, password string) (*ContentCipher, error) {
	if hexKey != "" {
		key, err := DeriveKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("content key: %w", err)
		}
		return &ContentCipher{key: key}, nil
	}
	if password == "" {
		return nil, fmt.Errorf("content key: either a hex key or a password is required")
	}
	return &ContentCipher{key: DeriveKeyFromPassword(password, contentSalt)}, nil
}

// EncryptString encrypts s. The empty string stays empty.
func (c *ContentCipher) EncryptString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return Encrypt(s, c.key)
}

// DecryptString decrypts s. Rows written before encryption was enabled
// fail to decrypt and are returned unchanged.
func (c *ContentCipher) DecryptString(s string) string {
	if s == "" {
		return ""
	}
	plain, err := Decrypt(s, c.key)
	if err != nil {
		return s
	}
	return plain
}
