// Package envelope defines the channel-neutral value types exchanged
// between the inbound transports, the normalizer, and the Host.
package envelope

import (
	"time"
	"unicode/utf8"
)

type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

type AttachmentSource string

const (
	SourceImage AttachmentSource = "image"
	SourceVoice AttachmentSource = "voice"
	SourceFile  AttachmentSource = "file"
	SourceVideo AttachmentSource = "video"
)

// Attachment is one media item carried by an inbound message.
type Attachment struct {
	Source     AttachmentSource
	SavedPath  string // absolute path once archived, empty if not yet saved
	Transcript string // ASR transcript, voice only
}

// InboundEnvelope is the channel-neutral inbound message handed to the Host.
//
// Invariant: MessageID is unique within an account's retention window; Body
// is always valid UTF-8; saved attachment references use the stable form
// "saved:<abs-path>".
type InboundEnvelope struct {
	MessageID    string
	Timestamp    time.Time
	ChatType     ChatType
	SenderID     string
	SenderName   string
	PeerID       string
	Body         string
	RawBody      string
	Attachments  []Attachment
	WasMentioned bool
	Channel      string
	AccountID    string
	MessageSID   string
}

// Valid reports whether the envelope satisfies the universally quantified
// invariant from the testable-properties section: non-empty MessageID and
// UTF-8-valid Body.
func (e InboundEnvelope) Valid() bool {
	return e.MessageID != "" && utf8.ValidString(e.Body)
}

// SavedRef formats the stable saved-media reference token for a path.
func SavedRef(path string) string {
	return "saved:" + path
}

// ErrorKind is the closed set of error kinds from the error-handling design.
type ErrorKind string

const (
	ErrKindConfigInvalid              ErrorKind = "ConfigInvalid"
	ErrKindSignatureMismatch          ErrorKind = "SignatureMismatch"
	ErrKindDecryptBadPadding          ErrorKind = "Decrypt/BadPadding"
	ErrKindPolicyDenied               ErrorKind = "PolicyDenied"
	ErrKindTokenExpired               ErrorKind = "TokenExpired"
	ErrKindSizeLimit                  ErrorKind = "SizeLimit"
	ErrKindTimeout                    ErrorKind = "Timeout"
	ErrKindPlatformFormatUnsupported  ErrorKind = "PlatformFormatUnsupported"
	ErrKindCardFailure                ErrorKind = "CardFailure"
	ErrKindTransportLost              ErrorKind = "TransportLost"
)

// KindError wraps an error with the error kind it was classified as, so
// callers can branch on Kind without re-deriving it from the error chain.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

func NewKindError(kind ErrorKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}
