package extract_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/extract/pdftest"
)

func extractBytes(t *testing.T, data []byte) ([]extract.Page, error) {
	t.Helper()
	e := extract.NewPDFExtractor(nil)
	return e.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
}

func TestExtract_PagesInOrder(t *testing.T) {
	data := pdftest.Build("Revenue grew in Q1.", "Costs fell in Q2.")

	pages, err := extractBytes(t, data)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Revenue grew in Q1.")
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Costs fell in Q2.")
}

func TestExtract_BlankPagesDroppedWithoutRenumbering(t *testing.T) {
	data := pdftest.Build("first page", "", "   ", "fourth page")

	pages, err := extractBytes(t, data)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 4, pages[1].Number)
	assert.Contains(t, pages[1].Text, "fourth page")
}

func TestExtract_LinesStaySeparated(t *testing.T) {
	data := pdftest.Build("alpha line\nbeta line")

	pages, err := extractBytes(t, data)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	fields := strings.Fields(pages[0].Text)
	assert.Equal(t, []string{"alpha", "line", "beta", "line"}, fields)
}

func TestExtract_EscapedCharacters(t *testing.T) {
	data := pdftest.Build(`total (net) = 5 \ 2`)

	pages, err := extractBytes(t, data)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, `total (net) = 5 \ 2`)
}

func TestExtract_Deterministic(t *testing.T) {
	data := pdftest.Build("one", "", "three\nmore text")

	first, err := extractBytes(t, data)
	require.NoError(t, err)
	second, err := extractBytes(t, data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExtract_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not a pdf", []byte("this is definitely not a portable document format file")},
		{"truncated", pdftest.Build("some text")[:120]},
		{"header only", append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 200)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := extractBytes(t, tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, extract.ErrExtraction)
			assert.Nil(t, pages)
		})
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	data := pdftest.Build("page")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := extract.NewPDFExtractor(nil).Extract(ctx, bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, pdftest.Build("from disk"), 0o600))

	pages, err := extract.NewPDFExtractor(nil).ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Contains(t, pages[0].Text, "from disk")
}
