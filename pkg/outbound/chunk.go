package outbound

import "strings"

// ChunkText splits text into chunks of at most limit runes, never splitting
// a rune, preserving the no-bytes-lost property: concat(chunk(x, n)) == x.
// It prefers to break on a trailing newline or space inside the window.
func ChunkText(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		window := runes[:limit]
		cut := limit
		if idx := lastIndexRune(window, '\n'); idx > 0 {
			cut = idx + 1
		} else if idx := lastIndexRune(window, ' '); idx > 0 {
			cut = idx + 1
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

func lastIndexRune(runes []rune, target rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

// Concat reassembles chunks produced by ChunkText for round-trip testing.
func Concat(chunks []string) string {
	return strings.Join(chunks, "")
}
