// Package chunk splits long content into overlapping token windows so each
// piece can carry its own embedding while neighbouring pieces share context.
package chunk

import (
	"fmt"
	"strings"

	"github.com/Strob0t/MemMesh/internal/domain"
)

// Tokenizer turns content into the token sequence the window arithmetic
// operates on. Join must reassemble a token slice into chunk content.
type Tokenizer interface {
	Tokenize(content string) []string
	Join(tokens []string) string
}

// Whitespace is the default Tokenizer: tokens are maximal runs of
// non-whitespace characters, joined back with single spaces.
type Whitespace struct{}

func (Whitespace) Tokenize(content string) []string { return strings.Fields(content) }
func (Whitespace) Join(tokens []string) string      { return strings.Join(tokens, " ") }

// Piece is one split-out window of the original content, in order.
type Piece struct {
	Index   int
	Content string
	Tokens  int
}

// Splitter produces overlapping content windows of at most MaxTokens tokens,
// with consecutive windows sharing OverlapTokens tokens.
type Splitter struct {
	MaxTokens     int
	OverlapTokens int
	Tokenizer     Tokenizer
}

// NewSplitter validates the window configuration. The overlap must leave the
// window able to advance, so OverlapTokens < MaxTokens.
func NewSplitter(maxTokens, overlapTokens int, tok Tokenizer) (*Splitter, error) {
	if maxTokens < 1 {
		return nil, fmt.Errorf("max_tokens must be >= 1: %w", domain.ErrInvalidChunkConfig)
	}
	if overlapTokens < 0 {
		return nil, fmt.Errorf("overlap_tokens must be >= 0: %w", domain.ErrInvalidChunkConfig)
	}
	if overlapTokens >= maxTokens {
		return nil, fmt.Errorf("overlap_tokens %d >= max_tokens %d: %w",
			overlapTokens, maxTokens, domain.ErrInvalidChunkConfig)
	}
	if tok == nil {
		tok = Whitespace{}
	}
	return &Splitter{MaxTokens: maxTokens, OverlapTokens: overlapTokens, Tokenizer: tok}, nil
}

// Split breaks content into pieces. Content that fits a single window is
// passed through verbatim, without retokenization. Each later window starts
// MaxTokens-OverlapTokens tokens after the previous one; the final window may
// be shorter than MaxTokens but is never empty.
func (s *Splitter) Split(content string) []Piece {
	tokens := s.Tokenizer.Tokenize(content)
	if len(tokens) <= s.MaxTokens {
		return []Piece{{Index: 0, Content: content, Tokens: len(tokens)}}
	}
	step := s.MaxTokens - s.OverlapTokens
	var pieces []Piece
	for start := 0; start < len(tokens); start += step {
		end := min(start+s.MaxTokens, len(tokens))
		window := tokens[start:end]
		pieces = append(pieces, Piece{
			Index:   len(pieces),
			Content: s.Tokenizer.Join(window),
			Tokens:  len(window),
		})
		if end == len(tokens) {
			break
		}
	}
	return pieces
}
