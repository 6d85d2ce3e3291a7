package security

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSDecrypter is the subset of *kms.Client used to unwrap data keys.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// ErrNoEncryptionKey is returned when no data key source is configured.
var ErrNoEncryptionKey = errors.New("no OTP encryption key configured")

// ResolveDataKey returns a 32-byte data key. A KMS-wrapped ciphertext (base64)
// takes precedence and is unwrapped with dec; otherwise plainB64 is decoded.
func ResolveDataKey(ctx context.Context, plainB64, kmsCiphertextB64 string, dec KMSDecrypter) ([]byte, error) {
	if kmsCiphertextB64 != "" {
		if dec == nil {
			return nil, errors.New("kms ciphertext configured but no kms client")
		}
		blob, err := base64.StdEncoding.DecodeString(kmsCiphertextB64)
		if err != nil {
			return nil, fmt.Errorf("kms ciphertext: %w", err)
		}
		out, err := dec.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return nil, fmt.Errorf("kms decrypt: %w", err)
		}
		if len(out.Plaintext) != 32 {
			return nil, fmt.Errorf("%w: kms data key must be 32 bytes", ErrInvalidKey)
		}
		return out.Plaintext, nil
	}
	if plainB64 == "" {
		return nil, ErrNoEncryptionKey
	}
	key, err := base64.StdEncoding.DecodeString(plainB64)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must decode to 32 bytes", ErrInvalidKey)
	}
	return key, nil
}
