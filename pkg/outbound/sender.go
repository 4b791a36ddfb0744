package outbound

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

// MediaKind mirrors media.Kind without importing the media package, to
// keep outbound decoupled from the download/archive implementation.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVoice MediaKind = "voice"
	MediaFile  MediaKind = "file"
)

// ChannelCapabilities describes what a channel can do for a media send, per
// §4.I's media delivery and fallback rules.
type ChannelCapabilities struct {
	SupportsVoice     bool
	SupportsFileSend  bool // false for QQ C2C/group (file_type=4)
	VoiceTranscode    bool
	FfmpegPresent     bool
}

// Transcoder converts a wav/mp3 file to amr; grounded in the teacher's
// ffmpeg-shellout pattern, invoked only when both VoiceTranscode and
// FfmpegPresent are set.
type Transcoder func(ctx context.Context, srcPath string) (dstPath string, err error)

// Sender implements §4.I's chunking + degradation + media + fallback
// pipeline for one channel account.
type Sender struct {
	Caps       ChannelCapabilities
	ChunkLimit int
	Degrade    bool // WeCom-family / QQ-without-markdown plain-text degradation
	Limiter    *rate.Limiter

	SendText  func(ctx context.Context, chatID, text string) error
	SendMedia func(ctx context.Context, chatID string, kind MediaKind, filePath, caption string) error
	Transcode Transcoder
}

func NewSender(caps ChannelCapabilities, chunkLimit int) *Sender {
	return &Sender{
		Caps:       caps,
		ChunkLimit: chunkLimit,
		Limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
}

// SendChunkedText chunks and optionally degrades text before delivering each chunk
// in order.
func (s *Sender) SendChunkedText(ctx context.Context, chatID, text string) error {
	if s.Degrade {
		text = StripMarkdown(text)
	}
	chunks := ChunkText(text, s.ChunkLimit)
	for _, chunk := range chunks {
		if err := s.throttledSendText(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) throttledSendText(ctx context.Context, chatID, text string) error {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return s.SendText(ctx, chatID, text)
}

// resolveVoicePath decides how a voice file should be delivered per §4.I:
// .amr/.speex send directly; .wav/.mp3 transcode when enabled+available,
// else fall back to file.
func (s *Sender) resolveVoicePath(ctx context.Context, filePath string) (path string, kind MediaKind, cleanup func()) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".amr" || ext == ".speex" {
		return filePath, MediaVoice, func() {}
	}
	if (ext == ".wav" || ext == ".mp3") && s.Caps.VoiceTranscode && s.Caps.FfmpegPresent && s.Transcode != nil {
		dst, err := s.Transcode(ctx, filePath)
		if err == nil {
			return dst, MediaVoice, func() {}
		}
	}
	return filePath, MediaFile, func() {}
}

// SendMediaFile implements §4.I's image/voice/file delivery with the
// documented fallback policies.
func (s *Sender) SendMediaFile(ctx context.Context, chatID string, declaredKind MediaKind, filePath, caption, url string) error {
	switch declaredKind {
	case MediaImage:
		if err := s.SendMedia(ctx, chatID, MediaImage, filePath, ""); err != nil {
			return s.fallbackText(ctx, chatID, url)
		}
		return nil

	case MediaVoice:
		path, kind, cleanup := s.resolveVoicePath(ctx, filePath)
		defer cleanup()
		if kind == MediaVoice && !s.Caps.SupportsVoice {
			kind = MediaFile
		}
		if kind == MediaFile && !s.Caps.SupportsFileSend {
			return s.platformUnsupportedFallback(ctx, chatID, url)
		}
		if err := s.SendMedia(ctx, chatID, kind, path, ""); err != nil {
			return s.fallbackText(ctx, chatID, url)
		}
		return nil

	default: // MediaFile
		if !s.Caps.SupportsFileSend {
			return s.platformUnsupportedFallback(ctx, chatID, url)
		}
		if caption != "" {
			if err := s.throttledSendText(ctx, chatID, caption); err != nil {
				return err
			}
		}
		if err := s.SendMedia(ctx, chatID, MediaFile, filePath, caption); err != nil {
			return s.fallbackText(ctx, chatID, url)
		}
		return nil
	}
}

// fallbackText implements "any media send failure: send 📎 <url> as text".
func (s *Sender) fallbackText(ctx context.Context, chatID, url string) error {
	return s.throttledSendText(ctx, chatID, fmt.Sprintf("\U0001F4CE %s", url))
}

// platformUnsupportedFallback implements the QQ file_type=4 fallback:
// "说明：…已为你附上文件链接：<url>".
func (s *Sender) platformUnsupportedFallback(ctx context.Context, chatID, url string) error {
	return s.throttledSendText(ctx, chatID, fmt.Sprintf("说明：当前平台不支持发送该类型文件，已为你附上文件链接：%s", url))
}
