package sqlite

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SecretCipher chiffre les secrets et tokens de comptes au repos.
// La clé est dérivée d'une passphrase process (CK_SECRET_KEY) ; une
// passphrase vide donne un chiffreur passthrough, réservé au dev.
type SecretCipher struct {
	key []byte
}

func NewSecretCipher(passphrase string) *SecretCipher {
	if passphrase == "" {
		return &SecretCipher{}
	}
	sum := sha256.Sum256([]byte(passphrase))
	return &SecretCipher{key: sum[:]}
}

func (c *SecretCipher) Seal(plaintext string) ([]byte, error) {
	if c.key == nil {
		return []byte(plaintext), nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *SecretCipher) Open(box []byte) (string, error) {
	if c.key == nil {
		return string(box), nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(box) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := box[:aead.NonceSize()], box[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(pt), nil
}
