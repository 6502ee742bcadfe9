// Package extract turns PDF bytes into per-page plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ErrExtraction is returned for input that cannot be parsed as a PDF.
var ErrExtraction = errors.New("pdf extraction failed")

// Page is the plain text of one PDF page. Number is 1-based and keeps the
// position in the source document, so gaps appear where blank pages were dropped.
type Page struct {
	Number int
	Text   string
}

// PDFExtractor extracts page text with github.com/ledongthuc/pdf.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates an extractor. A nil logger disables logging.
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{logger: logger}
}

// ExtractFile opens path and extracts it.
func (e *PDFExtractor) ExtractFile(ctx context.Context, path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return e.Extract(ctx, f, info.Size())
}

// Extract returns the non-blank pages of the document in page order.
// Pages whose text is empty after trimming are omitted. Any parse failure,
// including a panic inside the PDF library, is reported as ErrExtraction and
// no pages are returned.
func (e *PDFExtractor) Extract(ctx context.Context, r io.ReaderAt, size int64) (pages []Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", ErrExtraction, rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrExtraction)
	}

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := pageText(p)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrExtraction, i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	e.logger.Debug("pdf extracted",
		zap.Int("total_pages", total),
		zap.Int("text_pages", len(pages)))

	return pages, nil
}

// pageText walks the page's content streams and collects shown text.
// Line moves and text object ends become newlines so words on adjacent
// lines stay separated.
func pageText(p pdf.Page) (string, error) {
	contents := p.V.Key("Contents")

	var streams []pdf.Value
	switch contents.Kind() {
	case pdf.Null:
		return "", nil
	case pdf.Stream:
		streams = append(streams, contents)
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	default:
		return "", fmt.Errorf("unsupported contents object")
	}

	encoders := make(map[string]pdf.TextEncoding)
	for _, name := range p.Fonts() {
		encoders[name] = p.Font(name).Encoder()
	}

	var (
		b   strings.Builder
		enc pdf.TextEncoding
	)
	show := func(raw string) {
		if enc == nil {
			b.WriteString(raw)
			return
		}
		b.WriteString(enc.Decode(raw))
	}
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	for _, strm := range streams {
		if strm.Kind() != pdf.Stream {
			continue
		}
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
			args := make([]pdf.Value, stk.Len())
			for i := len(args) - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}

			switch op {
			case "Tf":
				if len(args) == 2 {
					enc = encoders[args[0].Name()]
				}
			case "Td", "TD", "T*", "ET":
				newline()
			case "Tj":
				if len(args) == 1 {
					show(args[0].RawString())
				}
			case "'":
				newline()
				if len(args) == 1 {
					show(args[0].RawString())
				}
			case "\"":
				newline()
				if len(args) == 3 {
					show(args[2].RawString())
				}
			case "TJ":
				if len(args) != 1 {
					return
				}
				for i := 0; i < args[0].Len(); i++ {
					x := args[0].Index(i)
					switch {
					case x.Kind() == pdf.String:
						show(x.RawString())
					case x.Float64() < -200:
						// large negative kerning is how most producers encode a space
						b.WriteByte(' ')
					}
				}
			}
		})
	}

	return b.String(), nil
}
