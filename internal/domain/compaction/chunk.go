package compaction

import "unicode/utf8"

// ChunkText splits s into pieces of at most MaxTranscriptBytes bytes,
// breaking only at UTF-8 rune boundaries, for the streaming summarizer
// (concat(ChunkText(s)) == s and every chunk is valid UTF-8 of length
// <= MaxTranscriptBytes).
func ChunkText(s string) []string {
	if len(s) == 0 {
		return nil
	}
	var chunks []string
	b := []byte(s)
	for len(b) > 0 {
		n := MaxTranscriptBytes
		if n >= len(b) {
			chunks = append(chunks, string(b))
			break
		}
		for n > 0 && !utf8.RuneStart(b[n]) {
			n--
		}
		if n == 0 {
			n = MaxTranscriptBytes
		}
		chunks = append(chunks, string(b[:n]))
		b = b[n:]
	}
	return chunks
}
