package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned for unreadable, unsupported or mismatched keys.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair is the JWT signing pair. Alg is the JOSE algorithm the pair signs with.
type KeyPair struct {
	Private crypto.Signer
	Public  crypto.PublicKey
	Alg     string
}

// LoadKeyPair reads the configured private and public keys, each given as
// inline PEM or a file path, and checks they belong together.
func LoadKeyPair(privateSrc, publicSrc string) (*KeyPair, error) {
	priv, err := ParsePrivateKey(privateSrc)
	if err != nil {
		return nil, fmt.Errorf("jwt private key: %w", err)
	}
	pub, err := ParsePublicKey(publicSrc)
	if err != nil {
		return nil, fmt.Errorf("jwt public key: %w", err)
	}
	return NewKeyPair(priv, pub)
}

// NewKeyPair accepts RSA and ECDSA P-256 keys. pub must be priv's public half;
// a key of the right type from another pair is rejected.
func NewKeyPair(priv crypto.Signer, pub crypto.PublicKey) (*KeyPair, error) {
	alg := KeyAlg(priv.Public())
	if alg == "" {
		return nil, fmt.Errorf("%w: unsupported private key", ErrInvalidKey)
	}
	own, ok := priv.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !own.Equal(pub) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
	}
	return &KeyPair{Private: priv, Public: pub, Alg: alg}, nil
}

// LoadPEM returns src when it is inline PEM and reads it as a path otherwise.
// Inline PEM from an env file may carry literal "\n" sequences; they are expanded.
func LoadPEM(src string) ([]byte, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(src, "-----BEGIN") {
		return []byte(strings.ReplaceAll(src, `\n`, "\n")), nil
	}
	return os.ReadFile(src)
}

func decodePEM(src string) (*pem.Block, error) {
	raw, err := LoadPEM(src)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses a PKCS#1, PKCS#8 or SEC 1 private key.
func ParsePrivateKey(src string) (crypto.Signer, error) {
	block, err := decodePEM(src)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses a PKCS#1 or PKIX public key.
func ParsePublicKey(src string) (crypto.PublicKey, error) {
	block, err := decodePEM(src)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, ErrInvalidKey
}

// KeyAlg maps a public key to its JWT algorithm: RS256 for RSA, ES256 for
// ECDSA on P-256. Other curves and key types map to "".
func KeyAlg(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return "ES256"
		}
	}
	return ""
}
