package wcv1

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

var ErrBadMAC = errors.New("wcv1: payload hmac mismatch")

// encryptedPayload is the JSON body of every published message.
type encryptedPayload struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
	IV   string `json:"iv"`
}

// encrypt seals plaintext with AES-256-CBC and authenticates ciphertext||iv with
// HMAC-SHA256 under the same key.
func encrypt(key []byte, plaintext []byte) (*encryptedPayload, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "failed to generate iv")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &encryptedPayload{
		Data: hex.EncodeToString(ciphertext),
		HMAC: hex.EncodeToString(payloadMAC(key, ciphertext, iv)),
		IV:   hex.EncodeToString(iv),
	}, nil
}

func decrypt(key []byte, p *encryptedPayload) ([]byte, error) {
	ciphertext, err := hex.DecodeString(p.Data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid payload data")
	}
	iv, err := hex.DecodeString(p.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.New("invalid payload iv")
	}
	mac, err := hex.DecodeString(p.HMAC)
	if err != nil {
		return nil, errors.Wrap(err, "invalid payload hmac")
	}

	if !hmac.Equal(mac, payloadMAC(key, ciphertext, iv)) {
		return nil, ErrBadMAC
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("invalid payload length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func payloadMAC(key []byte, ciphertext []byte, iv []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(ciphertext)
	h.Write(iv)

	return h.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padding")
	}

	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}

	return b[:len(b)-n], nil
}
