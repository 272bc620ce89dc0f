// Package cryptutil decrypts platform-supplied configuration values.
//
// The platform encrypts each contract_configuration value independently
// with the agent's RSA public key (RSA-OAEP, SHA-256), base64-encoded. The
// agent decrypts lazily, one value at a time, only for values it actually
// injects into a workload's environment.
package cryptutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/filigran/xtm-composer/pkg/errs"
)

// DecryptValue decrypts one base64-encoded RSA-OAEP/SHA-256 ciphertext with
// the agent's private key, returning the UTF-8 plaintext. configKey is used
// only for error reporting; it is never logged alongside the plaintext by
// this function's callers.
func DecryptValue(privateKey *rsa.PrivateKey, configKey, ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &errs.DecryptError{ConfigKey: configKey, Reason: "ciphertext is not valid base64"}
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, raw, nil)
	if err != nil {
		return "", &errs.DecryptError{ConfigKey: configKey, Reason: "RSA-OAEP decryption failed"}
	}

	return string(plaintext), nil
}
