package main

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
)

// rsaKeyBits matches the wire's 160-byte public_key field: an RSA-1024
// public key in PKCS#1 DER form is well within that width, per spec.md
// §3 ("holds an RSA-1024 PEM or DER key as supplied by the client").
const rsaKeyBits = 1024

// generateIdentityKey produces a fresh RSA-1024 keypair for Register.
func generateIdentityKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// encodePublicKeyField renders a public key as the fixed 160-byte wire
// field, zero-padded on the right. An oversized DER encoding is a
// configuration error that should never happen for RSA-1024.
func encodePublicKeyField(pub *rsa.PublicKey) ([]byte, error) {
	der := x509.MarshalPKCS1PublicKey(pub)
	if len(der) > 160 {
		return nil, fmt.Errorf("crypto: public key DER is %d bytes, exceeds the 160-byte wire field", len(der))
	}
	out := make([]byte, 160)
	copy(out, der)
	return out, nil
}

// decodePublicKeyField parses a 160-byte wire blob back into an RSA
// public key. Go's ASN.1 parser stops at the DER structure's own
// declared length, so the trailing zero padding is harmless.
func decodePublicKeyField(field []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(field)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	return pub, nil
}

// generateSessionKey produces a fresh 16-byte AES-128 key for symmetric
// message content (message_type 3/4). The message_type 2 content that
// carries it is its RSA-OAEP ciphertext (see wrapSessionKey), which is
// 128 bytes for an RSA-1024 recipient key.
func generateSessionKey() ([]byte, error) {
	key := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate session key: %w", err)
	}
	return key, nil
}

// wrapSessionKey encrypts a 16-byte session key under the recipient's
// RSA public key using OAEP, the content of a SendSymmetricKey
// (message_type 2) message.
func wrapSessionKey(pub *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrap session key: %w", err)
	}
	return ct, nil
}

// unwrapSessionKey reverses wrapSessionKey with the caller's own
// private key.
func unwrapSessionKey(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap session key: %w", err)
	}
	return pt, nil
}

// encryptContent encrypts text/file content (message_type 3/4) under a
// session key with AES-CTR, prefixing the random nonce.
func encryptContent(sessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	nonce := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	stream := cipher.NewCTR(block, nonce)
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)
	return append(nonce, out...), nil
}

// decryptContent reverses encryptContent.
func decryptContent(sessionKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("crypto: ciphertext shorter than one nonce block")
	}
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	nonce, ct := ciphertext[:aes.BlockSize], ciphertext[aes.BlockSize:]
	stream := cipher.NewCTR(block, nonce)
	out := make([]byte, len(ct))
	stream.XORKeyStream(out, ct)
	return out, nil
}
