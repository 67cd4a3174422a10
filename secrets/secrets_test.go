package secrets

import (
	"encoding/hex"
	"testing"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("VENUEFLOW_TEST_KEY", hex.EncodeToString(key))
	k, err := FromEnv("VENUEFLOW_TEST_KEY")
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	return k
}

func TestFromEnvValidation(t *testing.T) {
	t.Setenv("VENUEFLOW_TEST_KEY", "")
	if _, err := FromEnv("VENUEFLOW_TEST_KEY"); err == nil {
		t.Fatal("missing key must be an error")
	}

	t.Setenv("VENUEFLOW_TEST_KEY", "not-hex")
	if _, err := FromEnv("VENUEFLOW_TEST_KEY"); err == nil {
		t.Fatal("non-hex key must be an error")
	}

	t.Setenv("VENUEFLOW_TEST_KEY", "abcd")
	if _, err := FromEnv("VENUEFLOW_TEST_KEY"); err == nil {
		t.Fatal("short key must be an error")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := testKeyring(t)

	sealed, err := k.Encrypt("super-secret-api-key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if sealed == "super-secret-api-key" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	plain, err := k.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plain != "super-secret-api-key" {
		t.Fatalf("round trip got %q", plain)
	}

	// Two seals of the same plaintext differ because of the random nonce.
	sealed2, err := k.Encrypt("super-secret-api-key")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if sealed == sealed2 {
		t.Fatal("nonce reuse: identical ciphertexts for the same plaintext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	k := testKeyring(t)
	sealed, err := k.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	tampered := sealed[:len(sealed)-4] + "AAAA"
	if _, err := k.Decrypt(tampered); err == nil {
		t.Fatal("tampered ciphertext must fail to decrypt")
	}
}

func TestDecryptCredentialsPassthrough(t *testing.T) {
	k := testKeyring(t)

	sealedSecret, err := k.Encrypt("real-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	creds, err := k.DecryptCredentials(EncryptedCredentials{
		APIKey:    "plain-from-env",
		APISecret: sealedSecret,
		Sandbox:   true,
	})
	if err != nil {
		t.Fatalf("DecryptCredentials failed: %v", err)
	}
	if creds.APIKey != "plain-from-env" {
		t.Errorf("plain value must pass through, got %q", creds.APIKey)
	}
	if creds.APISecret != "real-secret" {
		t.Errorf("sealed value must decrypt, got %q", creds.APISecret)
	}
	if !creds.Sandbox {
		t.Error("sandbox flag must carry over")
	}

	if _, err := k.DecryptCredentials(EncryptedCredentials{APIKey: "", APISecret: "x"}); err == nil {
		t.Fatal("empty api key must be an error")
	}
}
