// Package wecom implements the WeCom-family (WeCom AI Robot and WeCom
// Self-built Application share the same callback crypto) signature
// verification and symmetric payload decryption described in §4.C.
package wecom

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrBadPadding        = errors.New("bad padding")
	ErrReceiveIdMismatch = errors.New("receive id mismatch")
)

const blockSize = 32

// ComputeSignature returns the hex-encoded SHA-1 of the sorted
// concatenation (token, timestamp, nonce, encrypt), per §6's on-wire format.
func ComputeSignature(token, timestamp, nonce, encrypt string) string {
	parts := []string{token, timestamp, nonce, encrypt}
	sort.Strings(parts)
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifySignature compares signature case-insensitively against the
// recomputed value.
func VerifySignature(token, timestamp, nonce, encrypt, signature string) bool {
	want := ComputeSignature(token, timestamp, nonce, encrypt)
	return equalFoldASCII(want, signature)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// DecodeAESKey decodes encodingAESKey (43 chars, no padding) into the raw
// 32-byte AES-256 key.
func DecodeAESKey(encodingAESKey string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encodingAESKey: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("encodingAESKey must decode to 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

func pkcs7Pad(data []byte) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-padLen], nil
}

func encryptAESCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := key[:16]
	padded := pkcs7Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func decryptAESCBC(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := key[:16]
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

// PackFrame builds the [16 random bytes | uint32_BE msgLen | msg |
// receiveId] plaintext frame that gets AES-encrypted.
func PackFrame(msg []byte, receiveID string) ([]byte, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("generate random prefix: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(msg)))

	buf := bytes.Buffer{}
	buf.Write(random)
	buf.Write(lenBuf)
	buf.Write(msg)
	buf.WriteString(receiveID)
	return buf.Bytes(), nil
}

// UnpackFrame reverses PackFrame, returning the msg payload. When
// expectedReceiveID is non-empty, the trailing receiveId must match it.
func UnpackFrame(frame []byte, expectedReceiveID string) ([]byte, error) {
	if len(frame) < 20 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	msgLen := binary.BigEndian.Uint32(frame[16:20])
	if int(20+msgLen) > len(frame) {
		return nil, fmt.Errorf("declared msgLen %d exceeds frame size", msgLen)
	}
	msg := frame[20 : 20+msgLen]
	receiveID := string(frame[20+msgLen:])
	if expectedReceiveID != "" && receiveID != expectedReceiveID {
		return nil, ErrReceiveIdMismatch
	}
	return msg, nil
}

// Encrypt encrypts msg under key, framing it with receiveID, and returns
// the base64-encoded ciphertext ready to place in an <Encrypt> element.
func Encrypt(key []byte, msg []byte, receiveID string) (string, error) {
	frame, err := PackFrame(msg, receiveID)
	if err != nil {
		return "", err
	}
	ciphertext, err := encryptAESCBC(key, frame)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64 <Encrypt> element under key, verifying
// receiveID when non-empty, and returns the inner msg payload.
func Decrypt(key []byte, encoded string, expectedReceiveID string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	plain, err := decryptAESCBC(key, ciphertext)
	if err != nil {
		return nil, err
	}
	return UnpackFrame(plain, expectedReceiveID)
}

// DecryptMedia decrypts a downloaded media payload; it uses the same
// algorithm as Decrypt but without the trailing receiveId check, per §4.C.
func DecryptMedia(key []byte, ciphertext []byte) ([]byte, error) {
	plain, err := decryptAESCBC(key, ciphertext)
	if err != nil {
		return nil, err
	}
	return UnpackFrame(plain, "")
}
