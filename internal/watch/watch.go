// Package watch ingests PDFs dropped into an inbox directory.
//
// Create and write events are debounced per path so a file is ingested once
// after its writer goes quiet. Files already present when the watcher starts
// are left alone; every ingest appends new entries to the index.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/sanitize"
)

// DefaultDebounce is the quiet period before a changed file is ingested.
const DefaultDebounce = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Ingester indexes a file on disk.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*ingest.Result, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnIngest registers a hook called after every ingest attempt.
func WithOnIngest(fn func(path string, res *ingest.Result, err error)) Option {
	return func(w *Watcher) {
		w.onIngest = fn
	}
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Watcher feeds new PDFs in a directory to an Ingester.
type Watcher struct {
	dir      string
	debounce time.Duration
	ingester Ingester
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	onIngest func(string, *ingest.Result, error)

	mu     sync.Mutex
	timers map[string]*pending

	queue    chan string
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher for dir, creating the directory if needed.
func New(dir string, ingester Ingester, opts ...Option) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating watch dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		dir:      abs,
		debounce: DefaultDebounce,
		ingester: ingester,
		fsw:      fsw,
		logger:   zap.NewNop(),
		timers:   make(map[string]*pending),
		queue:    make(chan string, 64),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Events are processed in background goroutines
// until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.worker(ctx)

	w.logger.Info("watching upload inbox",
		zap.String("dir", w.dir),
		zap.Duration("debounce", w.debounce))
	return nil
}

// Stop stops watching and waits for an in-flight ingest to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.fsw.Close()

		w.mu.Lock()
		for path, p := range w.timers {
			p.timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isPDF(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule (re)starts the debounce timer for path. A timer that already
// fired but has not yet claimed its entry sees a newer generation and drops out.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var gen uint64
	if p, ok := w.timers[path]; ok {
		p.timer.Stop()
		gen = p.gen + 1
	}
	w.timers[path] = &pending{
		gen: gen,
		timer: time.AfterFunc(w.debounce, func() {
			w.mu.Lock()
			cur, ok := w.timers[path]
			if !ok || cur.gen != gen {
				w.mu.Unlock()
				return
			}
			delete(w.timers, path)
			w.mu.Unlock()

			select {
			case w.queue <- path:
			case <-w.stop:
			}
		}),
	}
}

func (w *Watcher) worker(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	clean, err := sanitize.ValidatePath(path, w.dir)
	if err != nil {
		w.logger.Warn("ignoring path outside watch dir", zap.String("path", path), zap.Error(err))
		return
	}
	if info, err := os.Stat(clean); err != nil || !info.Mode().IsRegular() {
		return
	}

	res, err := w.ingester.IngestFile(ctx, clean)
	if err != nil {
		w.logger.Error("inbox ingest failed", zap.String("path", clean), zap.Error(err))
	} else {
		w.logger.Info("inbox document ingested",
			zap.String("path", clean),
			zap.String("document_id", res.DocumentID),
			zap.Int("entries", res.Entries))
	}
	if w.onIngest != nil {
		w.onIngest(clean, res, err)
	}
}

func isPDF(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), ".pdf")
}
