// Package flowcrypto реализует гибридную схему шифрования data-exchange
// запросов Flow-клиента: AES-GCM поверх данных, ключ обёрнут RSA-OAEP.
package flowcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrBadEnvelope = errors.New("malformed encrypted envelope")
	ErrDecrypt     = errors.New("envelope decryption failed")
)

// Envelope — тело запроса Flow-клиента как оно приходит по HTTP.
type Envelope struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

// ExchangeKey — распакованный симметричный ключ запроса вместе с его IV.
// Ответ шифруется этим же ключом, но ДРУГИМ IV (см. ResponseIV).
type ExchangeKey struct {
	Key       []byte
	RequestIV []byte
}

// LoadPrivateKey — читает RSA-ключ из PEM-файла. Зашифрованный PEM
// расшифровываем переданной passphrase.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(raw, passphrase)
}

func ParsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		d, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt private key: %w", err)
		}
		der = d
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// DecryptRequest — разворачивает ключ (RSA-OAEP, SHA-256) и вскрывает
// AES-GCM контейнер. Любая ошибка тега/паддинга/base64 — ErrDecrypt или
// ErrBadEnvelope, частично расшифрованные данные наружу не отдаём.
func DecryptRequest(env *Envelope, priv *rsa.PrivateKey) ([]byte, *ExchangeKey, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(env.EncryptedAESKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: aes key: %v", ErrBadEnvelope, err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.InitialVector)
	if err != nil || len(iv) == 0 {
		return nil, nil, fmt.Errorf("%w: initial vector", ErrBadEnvelope)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedFlowData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: flow data: %v", ErrBadEnvelope, err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrappedKey, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key unwrap: %v", ErrDecrypt, err)
	}

	plaintext, err := open(aesKey, iv, ciphertext)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, &ExchangeKey{Key: aesKey, RequestIV: iv}, nil
}

// EncryptResponse — сериализует v и шифрует тем же ключом. iv обязан
// отличаться от IV запроса: повторное использование nonce ломает GCM.
func EncryptResponse(v any, key *ExchangeKey, iv []byte) (string, error) {
	if len(iv) == len(key.RequestIV) && subtleEqual(iv, key.RequestIV) {
		return "", errors.New("response IV must differ from request IV")
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	sealed, err := seal(key.Key, iv, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// ResponseIV — IV ответа: побитовая инверсия IV запроса. Так Flow-клиент
// восстанавливает nonce, не получая его по сети, а от nonce запроса он
// гарантированно отличается.
func ResponseIV(requestIV []byte) []byte {
	out := make([]byte, len(requestIV))
	for i, b := range requestIV {
		out[i] = ^b
	}
	return out
}

func open(key, iv, ciphertext []byte) ([]byte, error) {
	aesgcm, err := gcm(key, len(iv))
	if err != nil {
		return nil, err
	}
	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func seal(key, iv, plaintext []byte) ([]byte, error) {
	aesgcm, err := gcm(key, len(iv))
	if err != nil {
		return nil, err
	}
	return aesgcm.Seal(nil, iv, plaintext, nil), nil
}

func gcm(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher: %v", ErrDecrypt, err)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func subtleEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
