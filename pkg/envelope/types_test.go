package envelope

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInboundEnvelope_Valid(t *testing.T) {
	env := InboundEnvelope{MessageID: "msg1", Body: "hello"}
	require.True(t, env.Valid())

	noID := InboundEnvelope{Body: "hello"}
	require.False(t, noID.Valid())

	badUTF8 := InboundEnvelope{MessageID: "msg1", Body: string([]byte{0xff, 0xfe})}
	require.False(t, badUTF8.Valid())
}

func TestInboundEnvelope_TimestampCarried(t *testing.T) {
	now := time.Now()
	env := InboundEnvelope{MessageID: "msg1", Body: "hi", Timestamp: now}
	require.Equal(t, now, env.Timestamp)
}

func TestSavedRef(t *testing.T) {
	require.Equal(t, "saved:/tmp/x.png", SavedRef("/tmp/x.png"))
}

func TestKindError_ErrorAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewKindError(ErrKindTimeout, base)

	require.Equal(t, "Timeout: boom", err.Error())
	require.True(t, errors.Is(err, base))

	var ke *KindError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, ErrKindTimeout, ke.Kind)
}

func TestKindError_NilWrapped(t *testing.T) {
	err := NewKindError(ErrKindPolicyDenied, nil)
	require.Equal(t, "PolicyDenied", err.Error())
}
