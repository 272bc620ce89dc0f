// Package identity generates and persists the agent's RSA keypair, the
// stable credential the platform uses to hand back encrypted configuration.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const keySize = 2048

const (
	privateKeyFile = "composer.key"
	publicKeyFile  = "composer.pub"
)

// Identity holds the agent's RSA keypair, kept in memory for the process
// lifetime. The private key never leaves the process.
type Identity struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// PublicKeyPEM returns the PKCS#1 public key PEM sent to the platform at
// registration.
func (id *Identity) PublicKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(id.PublicKey),
	})
}

// LoadOrGenerate loads the agent's keypair from dir, generating and
// persisting a new one on first run. The private key file is written with
// mode 0600, the directory with 0700, mirroring the teacher's certificate
// persistence idiom.
func LoadOrGenerate(dir string) (*Identity, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	if _, err := os.Stat(privPath); err == nil {
		return load(privPath, pubPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat private key: %w", err)
	}

	return generate(dir, privPath, pubPath)
}

func load(privPath, pubPath string) (*Identity, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM at %s", privPath)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key at %s is not an RSA key", privPath)
	}

	if _, err := os.Stat(pubPath); err != nil {
		return nil, fmt.Errorf("private key present but public key missing at %s: %w", pubPath, err)
	}

	return &Identity{PrivateKey: key, PublicKey: &key.PublicKey}, nil
}

func generate(dir, privPath, pubPath string) (*Identity, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: pkcs8Bytes,
	})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	if err := os.WriteFile(pubPath, pubPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &Identity{PrivateKey: key, PublicKey: &key.PublicKey}, nil
}
