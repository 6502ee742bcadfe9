// Package chunking splits extracted pages into overlapping, page-tagged chunks.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/docqa/internal/extract"
)

// ErrInvalidConfig is returned when size and overlap cannot produce chunks.
var ErrInvalidConfig = errors.New("invalid chunking config")

// Paragraph, line, word, then hard character cuts.
var separators = []string{"\n\n", "\n", " ", ""}

// Config controls chunk sizes, measured in runes.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns 1000-rune chunks with 100 runes of overlap.
func DefaultConfig() Config {
	return Config{Size: 1000, Overlap: 100}
}

// Validate rejects non-positive sizes and overlaps not smaller than the size.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, c.Size, c.Overlap)
	}
	return nil
}

// Chunk is a piece of one page's text.
type Chunk struct {
	Text string
	Page int
	// Index is the position of the chunk within its document.
	Index int
}

// Chunker splits each page independently; chunks never span pages.
//
// The recursive splitter only proposes cut points. Chunks are then laid out
// as windows over the page so that each one shares at least Overlap runes
// with its predecessor and never exceeds Size runes.
type Chunker struct {
	cfg      Config
	splitter textsplitter.RecursiveCharacter
}

// New creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		cfg: cfg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.Size-cfg.Overlap),
			textsplitter.WithChunkOverlap(0),
			textsplitter.WithSeparators(separators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split chunks every page in order. Blank pages produce no chunks.
func (c *Chunker) Split(pages []extract.Page) ([]Chunk, error) {
	var chunks []Chunk
	for _, p := range pages {
		parts, err := c.splitPage(p.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", p.Number, err)
		}
		for _, part := range parts {
			chunks = append(chunks, Chunk{Text: part, Page: p.Number, Index: len(chunks)})
		}
	}
	return chunks, nil
}

func (c *Chunker) splitPage(text string) ([]string, error) {
	runes := []rune(text)
	first, last := 0, len(runes)
	for first < last && unicode.IsSpace(runes[first]) {
		first++
	}
	for last > first && unicode.IsSpace(runes[last-1]) {
		last--
	}
	if first == last {
		return nil, nil
	}

	cores, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	cuts := cutPoints(text, cores)
	if len(cuts) == 0 || cuts[len(cuts)-1] < last {
		cuts = append(cuts, last)
	}

	var out []string
	start, prevEnd := first, -1
	for {
		end := c.nextEnd(runes, start, prevEnd, last, cuts)
		out = append(out, string(runes[start:end]))
		if end >= last {
			return out, nil
		}
		start, prevEnd = c.nextStart(runes, start, end), end
	}
}

// cutPoints maps the splitter's pieces back to rune offsets where they end.
// Pieces that cannot be located are skipped.
func cutPoints(text string, cores []string) []int {
	var cuts []int
	from := 0
	for _, core := range cores {
		if strings.TrimSpace(core) == "" {
			continue
		}
		i := strings.Index(text[from:], core)
		if i < 0 {
			continue
		}
		from += i + len(core)
		cuts = append(cuts, utf8.RuneCountInString(text[:from]))
	}
	return cuts
}

// nextEnd picks the furthest cut point that keeps the chunk within Size,
// then the last word end that does, then a hard cut. The result is always
// past prevEnd.
func (c *Chunker) nextEnd(runes []rune, start, prevEnd, last int, cuts []int) int {
	end := -1
	for _, cut := range cuts {
		if cut <= start || cut <= prevEnd {
			continue
		}
		if cut-start > c.cfg.Size {
			break
		}
		end = cut
	}
	if end >= 0 {
		return end
	}

	end = min(start+c.cfg.Size, last)
	if end == last {
		return end
	}
	for p := end; p > prevEnd && p > start; p-- {
		if unicode.IsSpace(runes[p]) && !unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return end
}

// nextStart backs up Overlap runes from prevEnd, then further to the start
// of the word it landed in when that stays within half an overlap more.
// A previous chunk shorter than Overlap is repeated whole.
func (c *Chunker) nextStart(runes []rune, prevStart, prevEnd int) int {
	if c.cfg.Overlap == 0 {
		s := prevEnd
		for s < len(runes) && unicode.IsSpace(runes[s]) {
			s++
		}
		return s
	}

	s := max(prevEnd-c.cfg.Overlap, prevStart)
	limit := min(c.cfg.Overlap+c.cfg.Overlap/2, c.cfg.Size-1)
	for p := s; p >= prevStart && prevEnd-p <= limit; p-- {
		if !unicode.IsSpace(runes[p]) && (p == 0 || unicode.IsSpace(runes[p-1])) {
			return p
		}
	}
	return s
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}
