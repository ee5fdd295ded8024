// Package cryptox implements the symmetric cipher used to protect medical
// files at rest: AES-256-CBC with PKCS#7 padding, authenticated with
// HMAC-SHA256 (encrypt-then-MAC). Keys are derived once from a secret
// with scrypt.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"golang.org/x/crypto/scrypt"
)

const (
	// IVSize is the length of the per-object initialization vector.
	IVSize = aes.BlockSize
	// KeySize is the AES-256 key length.
	KeySize = 32

	macSize = sha256.Size

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// DefaultSalt is the fixed scrypt salt applied when CipherConfig.Salt is empty.
var DefaultSalt = []byte("salt")

var (
	// ErrDecryption is returned for any failure to recover plaintext: wrong
	// IV, altered or truncated ciphertext, bad padding, or a changed key.
	ErrDecryption = errors.New("decryption failed")
	// ErrEmptySecret is returned by NewCipher when no secret is configured.
	ErrEmptySecret = errors.New("encryption secret is empty")
)

// CipherConfig carries the secret material injected at startup.
type CipherConfig struct {
	Secret string
	Salt   []byte
}

// Cipher encrypts and decrypts whole files. It holds only read-only key
// material and is safe for concurrent use.
type Cipher struct {
	encKey []byte
	macKey []byte
}

// NewCipher derives the encryption and MAC keys from cfg.
func NewCipher(cfg CipherConfig) (*Cipher, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	salt := cfg.Salt
	if len(salt) == 0 {
		salt = DefaultSalt
	}

	dk, err := scrypt.Key([]byte(cfg.Secret), salt, scryptN, scryptR, scryptP, 2*KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &Cipher{encKey: dk[:KeySize], macKey: dk[KeySize:]}, nil
}

// Encrypt returns the ciphertext of plaintext together with the fresh random
// IV used to produce it. The IV must be stored alongside the ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, nil, err
	}

	iv = common.GenerateRandByteArray(IVSize)

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded), len(padded)+macSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return append(out, c.tag(iv, out)...), iv, nil
}

// Decrypt reverses Encrypt. Every failure is reported as ErrDecryption.
func (c *Cipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: bad iv length %d", ErrDecryption, len(iv))
	}
	if len(ciphertext) < aes.BlockSize+macSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	body := ciphertext[:len(ciphertext)-macSize]
	mac := ciphertext[len(ciphertext)-macSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrDecryption)
	}
	if !hmac.Equal(mac, c.tag(iv, body)) {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	out, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cipher) tag(iv, body []byte) []byte {
	m := hmac.New(sha256.New, c.macKey)
	m.Write(iv)
	m.Write(body)
	return m.Sum(nil)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
