// Package ingest runs the upload pipeline: store the file, extract page
// text, chunk it and write the chunks to the index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/chunking"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/index"
	"github.com/fyrsmithlabs/docqa/internal/sanitize"
)

// SuccessMessage is returned to clients after a successful upload.
const SuccessMessage = "PDF uploaded and embedded successfully."

var (
	// ErrNoText is returned for a document without any extractable text.
	// It wraps extract.ErrExtraction.
	ErrNoText = fmt.Errorf("%w: document has no extractable text", extract.ErrExtraction)

	// ErrStorage wraps failures saving the uploaded file.
	ErrStorage = errors.New("saving upload failed")
)

var uploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "docqa",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "Documents processed by the upload pipeline, by result.",
	},
	[]string{"result"},
)

// Extractor reads page text from a stored file.
type Extractor interface {
	ExtractFile(ctx context.Context, path string) ([]extract.Page, error)
}

// Splitter chunks pages.
type Splitter interface {
	Split(pages []extract.Page) ([]chunking.Chunk, error)
}

// Writer persists chunks.
type Writer interface {
	Write(ctx context.Context, ref index.DocumentRef, chunks []chunking.Chunk) (*index.WriteResult, error)
}

// Result describes an ingested document.
type Result struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	StoredPath string `json:"stored_path"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Entries    int    `json:"entries"`
}

// Service runs the pipeline.
type Service struct {
	uploadDir string
	extractor Extractor
	splitter  Splitter
	writer    Writer
	logger    *zap.Logger
}

// NewService creates a service that stores uploads in uploadDir.
func NewService(uploadDir string, extractor Extractor, splitter Splitter, writer Writer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uploadDir: uploadDir,
		extractor: extractor,
		splitter:  splitter,
		writer:    writer,
		logger:    logger,
	}
}

// Upload saves r as <uploadDir>/<uuid>_<sanitized filename> and ingests it.
// A file whose text cannot be extracted is removed again and nothing is
// written to the index.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	id := uuid.NewString()
	name := sanitize.Filename(filename)
	path := filepath.Join(s.uploadDir, id+"_"+name)

	if err := s.save(path, r); err != nil {
		uploadsTotal.WithLabelValues("storage_error").Inc()
		return nil, err
	}

	res, err := s.ingest(ctx, id, name, path)
	if err != nil && errors.Is(err, extract.ErrExtraction) {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove rejected upload", zap.String("path", path), zap.Error(rmErr))
		}
	}
	return res, err
}

// IngestFile indexes a file that is already on disk, such as one dropped
// into the watch directory or named on the command line.
func (s *Service) IngestFile(ctx context.Context, path string) (*Result, error) {
	return s.ingest(ctx, uuid.NewString(), filepath.Base(path), path)
}

func (s *Service) save(path string, r io.Reader) (err error) {
	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		return fmt.Errorf("%w: creating upload dir: %w", ErrStorage, err)
	}

	// #nosec G304 - path is built from a UUID and a sanitized name under uploadDir
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrStorage, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("%w: writing: %w", ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrStorage, err)
	}
	return nil
}

func (s *Service) ingest(ctx context.Context, id, source, path string) (*Result, error) {
	start := time.Now()
	log := s.logger.With(zap.String("document_id", id), zap.String("source", source))

	pages, err := s.extractor.ExtractFile(ctx, path)
	if err != nil {
		uploadsTotal.WithLabelValues("extraction_error").Inc()
		log.Warn("extraction failed", zap.Error(err))
		return nil, err
	}
	if len(pages) == 0 {
		uploadsTotal.WithLabelValues("extraction_error").Inc()
		log.Warn("document has no text")
		return nil, ErrNoText
	}

	chunks, err := s.splitter.Split(pages)
	if err != nil {
		uploadsTotal.WithLabelValues("chunking_error").Inc()
		return nil, fmt.Errorf("chunking: %w", err)
	}

	res := &Result{
		DocumentID: id,
		Source:     source,
		StoredPath: path,
		Pages:      len(pages),
		Chunks:     len(chunks),
	}

	wr, err := s.writer.Write(ctx, index.DocumentRef{ID: id, Source: source}, chunks)
	if wr != nil {
		res.Entries = wr.Entries
	}
	if err != nil {
		uploadsTotal.WithLabelValues("index_error").Inc()
		log.Error("indexing failed", zap.Int("entries_committed", res.Entries), zap.Error(err))
		return res, err
	}

	uploadsTotal.WithLabelValues("ok").Inc()
	log.Info("document ingested",
		zap.String("stored_path", path),
		zap.Int("pages", res.Pages),
		zap.Int("chunks", res.Chunks),
		zap.Int("entries", res.Entries),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
