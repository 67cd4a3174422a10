// Package secrets decrypts venue credential material with the
// process-wide encryption key. Decryption happens transiently at
// connection setup; plaintext is never persisted.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"venueflow/models"
)

// Keyring holds the AES-256 key used for credential material.
type Keyring struct {
	key []byte
}

// FromEnv loads the key from the named environment variable. The value
// must be 32 bytes, hex encoded. A missing key is an error: callers
// treat it as fatal at startup.
func FromEnv(envName string) (*Keyring, error) {
	raw := strings.TrimSpace(os.Getenv(envName))
	if raw == "" {
		return nil, fmt.Errorf("encryption key env %s is not set", envName)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("encryption key in %s is not valid hex: %w", envName, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key in %s must be 32 bytes, got %d", envName, len(key))
	}
	return &Keyring{key: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM. The nonce is prepended and
// the result base64 encoded. Used by provisioning tooling and tests.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (k *Keyring) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// EncryptedCredentials is a credential record as stored at rest.
type EncryptedCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
}

// Decrypt opens every field of the record. Plain values (provisioned via
// env expansion rather than encryption) pass through untouched when they
// do not decode as ciphertext.
func (k *Keyring) DecryptCredentials(enc EncryptedCredentials) (models.Credentials, error) {
	out := models.Credentials{Sandbox: enc.Sandbox}
	var err error
	if out.APIKey, err = k.decryptOrPassthrough(enc.APIKey); err != nil {
		return models.Credentials{}, fmt.Errorf("api key: %w", err)
	}
	if out.APISecret, err = k.decryptOrPassthrough(enc.APISecret); err != nil {
		return models.Credentials{}, fmt.Errorf("api secret: %w", err)
	}
	if enc.Passphrase != "" {
		if out.Passphrase, err = k.decryptOrPassthrough(enc.Passphrase); err != nil {
			return models.Credentials{}, fmt.Errorf("passphrase: %w", err)
		}
	}
	return out, nil
}

func (k *Keyring) decryptOrPassthrough(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("empty credential value")
	}
	plain, err := k.Decrypt(value)
	if err != nil {
		// Not sealed material; treat as a plain value from env expansion.
		return value, nil
	}
	return plain, nil
}
