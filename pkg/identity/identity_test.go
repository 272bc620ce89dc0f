package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadOrGenerateCreatesKeypair(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrGenerate(dir)
	assert.NoError(t, err)
	assert.NotNil(t, id.PrivateKey)
	assert.NotNil(t, id.PublicKey)

	privPath := filepath.Join(dir, privateKeyFile)
	info, err := os.Stat(privPath)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadOrGenerateIsStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir)
	assert.NoError(t, err)

	second, err := LoadOrGenerate(dir)
	assert.NoError(t, err)

	assert.Equal(t, 0, first.PrivateKey.D.Cmp(second.PrivateKey.D), "LoadOrGenerate() produced a different key on reload")
}

func TestPublicKeyPEMIsWellFormed(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrGenerate(dir)
	assert.NoError(t, err)

	pemBytes := id.PublicKeyPEM()
	assert.NotEmpty(t, pemBytes)
	assert.Contains(t, string(pemBytes), "RSA PUBLIC KEY")
}
