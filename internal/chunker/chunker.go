package chunker

import "strings"

// Default splitting parameters, matching the ingestion defaults the rest of
// the system assumes: 1000-character chunks with 100 characters of overlap.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// DefaultSeparators is the separator priority order: paragraph break, line
// break, space, and finally character-level splitting.
func DefaultSeparators() []string {
	return []string{"\n\n", "\n", " ", ""}
}

// Splitter splits raw text into overlapping chunks by recursively trying
// separators in priority order. It is pure: the same input and parameters
// always produce the same chunk sequence.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a splitter. Non-positive size or negative overlap fall back to
// the defaults; an overlap at or above the size is clamped below it.
func New(chunkSize, chunkOverlap int, separators []string) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	if len(separators) == 0 {
		separators = DefaultSeparators()
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap, separators: separators}
}

// Split returns the ordered chunk sequence for text. Empty or whitespace-only
// input yields an empty sequence, never an error; the caller decides whether
// that is a failure.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	// Pick the first separator that actually occurs in the text; the empty
	// separator always matches and splits per character.
	sep := ""
	rest := separators
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var chunks []string
	var small []string // consecutive pieces that fit and can be packed
	for _, piece := range splitOn(text, sep) {
		if len(piece) <= s.chunkSize {
			small = append(small, piece)
			continue
		}
		// Flush accumulated small pieces, then recurse on the big one with
		// the remaining, finer separators.
		chunks = append(chunks, s.merge(small, sep)...)
		small = nil
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	chunks = append(chunks, s.merge(small, sep)...)
	return chunks
}

// merge greedily packs split pieces into chunks of at most chunkSize
// characters, carrying up to chunkOverlap trailing characters of one chunk
// into the start of the next.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := len(sep)
	var chunks []string
	var window []string
	total := 0

	joinWindow := func() {
		joined := strings.TrimSpace(strings.Join(window, sep))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, piece := range pieces {
		pieceLen := len(piece)
		if total+pieceLen+sepIf(sepLen, len(window) > 0) > s.chunkSize && len(window) > 0 {
			joinWindow()
			// Shrink the window to the overlap budget, or further if the
			// incoming piece still would not fit.
			for total > s.chunkOverlap ||
				(total+pieceLen+sepIf(sepLen, len(window) > 0) > s.chunkSize && total > 0) {
				total -= len(window[0]) + sepIf(sepLen, len(window) > 1)
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += pieceLen + sepIf(sepLen, len(window) > 1)
	}
	if len(window) > 0 {
		joinWindow()
	}
	return chunks
}

func sepIf(sepLen int, cond bool) int {
	if cond {
		return sepLen
	}
	return 0
}

// splitOn splits text on sep, dropping empty pieces; the separator is
// re-inserted when pieces are joined back into a chunk. The empty separator
// splits into individual characters.
func splitOn(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
