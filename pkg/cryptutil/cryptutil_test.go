package cryptutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/filigran/xtm-composer/pkg/errs"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)
	return key
}

func TestDecryptValueRoundTrip(t *testing.T) {
	key := mustKey(t)

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, []byte("s3cr3t-token"), nil)
	assert.NoError(t, err)

	got, err := DecryptValue(key, "api_token", base64.StdEncoding.EncodeToString(ciphertext))
	assert.NoError(t, err)
	assert.Equal(t, "s3cr3t-token", got)
}

func TestDecryptValueInvalidBase64(t *testing.T) {
	key := mustKey(t)

	_, err := DecryptValue(key, "api_token", "not-base64!!!")

	var decErr *errs.DecryptError
	if assert.True(t, errors.As(err, &decErr)) {
		assert.Equal(t, "api_token", decErr.ConfigKey)
	}
}

func TestDecryptValueWrongKey(t *testing.T) {
	key := mustKey(t)
	otherKey := mustKey(t)

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, []byte("payload"), nil)
	assert.NoError(t, err)

	_, err = DecryptValue(otherKey, "api_token", base64.StdEncoding.EncodeToString(ciphertext))

	var decErr *errs.DecryptError
	assert.True(t, errors.As(err, &decErr))
}
