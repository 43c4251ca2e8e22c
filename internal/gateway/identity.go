package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// DeviceIdentity is the persistent per-installation credential presented
// during the gateway handshake: a stable device id derived from an Ed25519
// public key, plus the key pair itself.
type DeviceIdentity struct {
	DeviceID   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// identityFile is the on-disk JSON shape.
type identityFile struct {
	DeviceID        string `json:"deviceId"`
	PublicKeyBase64 string `json:"publicKeyBase64"`
	PrivateKeyPem   string `json:"privateKeyPem"`
}

// DefaultIdentityPath returns the per-user identity file location.
func DefaultIdentityPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "clawflow", "identity.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "identity.json")
	}
	return filepath.Join(home, ".config", "clawflow", "identity.json")
}

// LoadOrCreateIdentity loads the identity at path, creating and persisting a
// fresh one on first run. A pre-existing valid identity is always reused.
func LoadOrCreateIdentity(path string) (*DeviceIdentity, error) {
	if path == "" {
		path = DefaultIdentityPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		id, err := parseIdentity(data)
		if err == nil {
			return id, nil
		}
		// Corrupt identity file: regenerate rather than fail the connect.
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}

	id := &DeviceIdentity{
		DeviceID:   deviceIDFor(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}

	if err := saveIdentity(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func deviceIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func parseIdentity(data []byte) (*DeviceIdentity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	pub, err := base64.StdEncoding.DecodeString(f.PublicKeyBase64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key in identity file")
	}

	block, _ := pem.Decode([]byte(f.PrivateKeyPem))
	if block == nil {
		return nil, fmt.Errorf("invalid private key PEM in identity file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity private key is not Ed25519")
	}

	return &DeviceIdentity{
		DeviceID:   f.DeviceID,
		PublicKey:  ed25519.PublicKey(pub),
		PrivateKey: priv,
	}, nil
}

func saveIdentity(path string, id *DeviceIdentity) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	f := identityFile{
		DeviceID:        id.DeviceID,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(id.PublicKey),
		PrivateKeyPem:   string(pemBytes),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// Sign signs payload with the device's private key.
func (d *DeviceIdentity) Sign(payload []byte) []byte {
	return ed25519.Sign(d.PrivateKey, payload)
}

// PublicKeyBase64URL returns the public key in the encoding sent on the wire.
func (d *DeviceIdentity) PublicKeyBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(d.PublicKey)
}
