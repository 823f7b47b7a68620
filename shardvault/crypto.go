// Package shardvault encrypts, stores and retrieves guardian secret key
// shares. Shares are protected by two independent AES-256-GCM layers with
// separately derived keys, so a single key compromise never exposes a
// share. Plaintext shares and intermediate ciphertext never leave the
// encryption boundary of this package.
package shardvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	ivSize   = 12
	tagSize  = 16

	// argon2id parameters: time=1, memory=64MiB, threads=4, 32-byte key.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// CipherLayer carries the non-secret material of one encryption layer.
type CipherLayer struct {
	Salt []byte `json:"salt"`
	IV   []byte `json:"iv"`
	Tag  []byte `json:"tag"`
}

// DoubleEncrypted is a share after both encryption layers. Ciphertext is
// the outer-layer output; the inner ciphertext is only recoverable by
// inverting the outer layer first.
type DoubleEncrypted struct {
	Inner      CipherLayer `json:"inner"`
	Outer      CipherLayer `json:"outer"`
	Ciphertext []byte      `json:"ciphertext"`
}

// Cipher performs the two-layer encryption. The two layer secrets must be
// independent; deriving both layers from one secret would collapse the
// defense the second layer exists for.
type Cipher struct {
	innerSecret []byte
	outerSecret []byte
}

// NewCipher creates a two-layer cipher from two independent layer secrets,
// each at least 32 bytes.
func NewCipher(innerSecret, outerSecret []byte) (*Cipher, error) {
	if len(innerSecret) < 32 || len(outerSecret) < 32 {
		return nil, errors.New("layer secrets must be at least 32 bytes")
	}
	if bytes.Equal(innerSecret, outerSecret) {
		return nil, errors.New("layer secrets must be independent")
	}

	return &Cipher{innerSecret: innerSecret, outerSecret: outerSecret}, nil
}

// Encrypt applies both layers to a raw share: the inner layer encrypts the
// share, the outer layer re-encrypts the inner ciphertext. Each layer uses
// a fresh salt and IV.
func (c *Cipher) Encrypt(share []byte) (*DoubleEncrypted, error) {
	innerLayer, innerCiphertext, err := encryptLayer(c.innerSecret, share)
	if err != nil {
		return nil, fmt.Errorf("inner layer: %w", err)
	}

	outerLayer, outerCiphertext, err := encryptLayer(c.outerSecret, innerCiphertext)
	if err != nil {
		return nil, fmt.Errorf("outer layer: %w", err)
	}

	return &DoubleEncrypted{
		Inner:      innerLayer,
		Outer:      outerLayer,
		Ciphertext: outerCiphertext,
	}, nil
}

// Decrypt inverts the outer layer, then the inner layer.
func (c *Cipher) Decrypt(enc *DoubleEncrypted) ([]byte, error) {
	innerCiphertext, err := decryptLayer(c.outerSecret, enc.Outer, enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("outer layer: %w", err)
	}

	share, err := decryptLayer(c.innerSecret, enc.Inner, innerCiphertext)
	if err != nil {
		return nil, fmt.Errorf("inner layer: %w", err)
	}
	return share, nil
}

// encryptLayer seals plaintext under a key derived from the layer secret
// and a fresh salt. The GCM authentication tag is split out so the stored
// record carries salt, IV and tag explicitly per layer.
func encryptLayer(layerSecret, plaintext []byte) (CipherLayer, []byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return CipherLayer{}, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return CipherLayer{}, nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	aead, err := layerAEAD(layerSecret, salt)
	if err != nil {
		return CipherLayer{}, nil, err
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return CipherLayer{Salt: salt, IV: iv, Tag: tag}, ciphertext, nil
}

func decryptLayer(layerSecret []byte, layer CipherLayer, ciphertext []byte) ([]byte, error) {
	if len(layer.Salt) != saltSize || len(layer.IV) != ivSize || len(layer.Tag) != tagSize {
		return nil, errors.New("malformed cipher layer")
	}

	aead, err := layerAEAD(layerSecret, layer.Salt)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, layer.Tag...)

	plaintext, err := aead.Open(nil, layer.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// layerAEAD derives the layer key with argon2id and builds the AES-GCM
// AEAD for it.
func layerAEAD(layerSecret, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(layerSecret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
