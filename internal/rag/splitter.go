package rag

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults for playbook markdown.
const (
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 150
)

// DefaultSeparators prefers markdown section and list boundaries, then
// lines, then words.
var DefaultSeparators = []string{"\n## ", "\n### ", "\n- ", "\n", " "}

// Splitter cuts text into chunks of at most ChunkSize characters (runes)
// where the separators allow it, carrying up to ChunkOverlap characters of
// trailing context into the next chunk.
//
// The first separator that occurs in the text is used to split it; each
// separator stays attached to the start of the piece that follows it.
// Pieces that are still too long are split again with the remaining
// separators; a piece longer than ChunkSize with no separator left is
// emitted as is.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter returns a Splitter with the playbook defaults.
func NewSplitter() *Splitter {
	return &Splitter{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// Split returns the chunks of text. Chunks are whitespace-trimmed and
// never empty.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	if n := len(separators); n > 0 {
		sep = separators[n-1]
	}
	for i, cand := range separators {
		if cand == "" {
			sep = cand
			break
		}
		if strings.Contains(text, cand) {
			sep, rest = cand, separators[i+1:]
			break
		}
	}

	var chunks, small []string
	for _, piece := range splitKeepingSeparator(text, sep) {
		if runeLen(piece) < s.ChunkSize {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			chunks = append(chunks, s.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, s.split(piece, rest)...)
	}
	if len(small) > 0 {
		chunks = append(chunks, s.merge(small)...)
	}
	return chunks
}

// merge packs consecutive pieces into chunks. When the next piece would
// overflow ChunkSize the current window is emitted and pieces are dropped
// from its front until at most ChunkOverlap characters remain and the next
// piece fits.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out    []string
		window []string
		total  int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.ChunkSize && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
				out = append(out, doc)
			}
			for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitKeepingSeparator splits text on sep, prefixing every piece after
// the first with sep. Empty pieces are dropped. An empty sep splits into
// single characters.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
