package wecom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DecodeAESKey("jWmYm7qr5nMoAUwZRjGtBxmz3KA1tkAj3ykkR6q2B2C") // 43 chars
	require.NoError(t, err)
	require.Len(t, key, 32)
	return key
}

func TestComputeSignature_MatchesSortedConcatenation(t *testing.T) {
	sig := ComputeSignature("token", "1234567890", "nonce123", "encryptedpayload")
	require.Len(t, sig, 40)
	require.True(t, VerifySignature("token", "1234567890", "nonce123", "encryptedpayload", sig))
}

func TestVerifySignature_CaseInsensitive(t *testing.T) {
	sig := ComputeSignature("t", "1", "n", "e")
	upper := ""
	for _, c := range sig {
		if c >= 'a' && c <= 'f' {
			upper += string(c - 32)
		} else {
			upper += string(c)
		}
	}
	require.True(t, VerifySignature("t", "1", "n", "e", upper))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(t)
	msg := []byte(`{"MsgType":"text","Content":"hello"}`)

	encoded, err := Encrypt(key, msg, "corpid123")
	require.NoError(t, err)

	decoded, err := Decrypt(key, encoded, "corpid123")
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestDecrypt_ReceiveIdMismatch(t *testing.T) {
	key := testKey(t)
	encoded, err := Encrypt(key, []byte("hi"), "corpA")
	require.NoError(t, err)

	_, err = Decrypt(key, encoded, "corpB")
	require.ErrorIs(t, err, ErrReceiveIdMismatch)
}

func TestDecrypt_BadPadding(t *testing.T) {
	key := testKey(t)
	_, err := decryptAESCBC(key, make([]byte, 32)) // all-zero block, invalid pad byte
	require.ErrorIs(t, err, ErrBadPadding)
}

func TestDecryptMedia_NoReceiveIdCheck(t *testing.T) {
	key := testKey(t)
	frame, err := PackFrame([]byte("media-bytes"), "anything")
	require.NoError(t, err)
	ciphertext, err := encryptAESCBC(key, frame)
	require.NoError(t, err)

	plain, err := DecryptMedia(key, ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("media-bytes"), plain)
}
