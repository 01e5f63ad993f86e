package biz

import (
	"crypto/sha256"
	"encoding/hex"

	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// boundaryWindow is the tail fraction of a chunk window in which a sentence
// or paragraph boundary is preferred over a hard cut.
const boundaryWindow = 0.2

// ChunkPiece is one chunk cut from a document, before persistence.
type ChunkPiece struct {
	Index       int
	Text        string
	StartOffset int // rune offset, inclusive
	EndOffset   int // rune offset, exclusive
	TextHash    string
	// Duplicate marks a piece whose text hash already appeared earlier in
	// the same document. Duplicates are embedded once and fanned out.
	Duplicate bool
}

// Chunker cuts normalized text into overlapping windows.
//
// All sizes and offsets are measured in runes. Chunking is deterministic:
// the same text and configuration always produce the same pieces.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. overlap must be smaller than size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, apierrors.ErrInvalidParam.WithMessage("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, apierrors.ErrInvalidParam.WithMessage("chunk overlap must be in [0, size)")
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into pieces. Empty text yields no pieces.
//
// Each window prefers to end at the last sentence terminator or newline in
// its final fifth; otherwise it cuts hard at the window size. The next
// window starts overlap runes before the previous end, and always advances
// by at least one rune so chunking terminates on any input.
func (c *Chunker) Chunk(text string) []ChunkPiece {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var pieces []ChunkPiece

	pos := 0
	for pos < n {
		end := pos + c.size
		if end >= n {
			end = n
		} else if cut := c.boundaryCut(runes, pos, end); cut > 0 {
			end = cut
		}

		pieceText := string(runes[pos:end])
		hash := hashText(pieceText)

		pieces = append(pieces, ChunkPiece{
			Index:       len(pieces),
			Text:        pieceText,
			StartOffset: pos,
			EndOffset:   end,
			TextHash:    hash,
			Duplicate:   seen[hash],
		})
		seen[hash] = true

		if end >= n {
			break
		}

		next := end - c.overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}

	return pieces
}

// boundaryCut returns the position just after the last boundary rune in the
// final fifth of the window, or 0 when no boundary is there.
func (c *Chunker) boundaryCut(runes []rune, start, end int) int {
	earliest := end - int(float64(c.size)*boundaryWindow)
	if earliest <= start {
		earliest = start + 1
	}
	for i := end - 1; i >= earliest; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
