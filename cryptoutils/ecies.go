// Package cryptoutils provides the asymmetric encryption primitives used
// by guardian notifications: ECIES over P-256 with ECDH key agreement,
// SHA-256 key derivation and AES-GCM authenticated encryption. A fresh
// ephemeral key is generated for every encryption, providing forward
// secrecy.
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

const gcmNonceSize = 12

// GenerateRecipientKeypair creates a new P-256 keypair for notification
// encryption. Returns the private key (PKCS#8 PEM) and public key
// (PKIX PEM).
func GenerateRecipientKeypair() (privPEM, pubPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}

// EncryptToRecipient encrypts data to the recipient's public key PEM.
//
// Output format: [ephemeral key length (2 bytes)][ephemeral public key]
// [nonce][ciphertext].
func EncryptToRecipient(publicKeyPEM []byte, data []byte) ([]byte, error) {
	recipient, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	sharedKey := sha256.Sum256(shared)

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newGCM(sharedKey[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, data, nil)

	ephemeralBytes := ephemeral.PublicKey().Bytes()
	out := make([]byte, 2+len(ephemeralBytes)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(ephemeralBytes)))
	copy(out[2:], ephemeralBytes)
	copy(out[2+len(ephemeralBytes):], nonce)
	copy(out[2+len(ephemeralBytes)+len(nonce):], ciphertext)
	return out, nil
}

// DecryptWithRecipientKey decrypts data produced by EncryptToRecipient
// using the recipient's private key PEM.
func DecryptWithRecipientKey(privateKeyPEM []byte, encrypted []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if len(encrypted) < 2 {
		return nil, errors.New("encrypted data too short")
	}

	ephemeralLen := int(binary.BigEndian.Uint16(encrypted[0:2]))
	if len(encrypted) < 2+ephemeralLen+gcmNonceSize {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeral, err := ecdh.P256().NewPublicKey(encrypted[2 : 2+ephemeralLen])
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}

	shared, err := priv.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	sharedKey := sha256.Sum256(shared)

	nonceStart := 2 + ephemeralLen
	nonce := encrypted[nonceStart : nonceStart+gcmNonceSize]
	ciphertext := encrypted[nonceStart+gcmNonceSize:]

	aead, err := newGCM(sharedKey[:])
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func parsePublicKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}

	return ecKey.ECDH()
}

func parsePrivateKey(privateKeyPEM []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}

	return ecKey.ECDH()
}

func newGCM(key []byte) (cipher.AEAD, error) {
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
