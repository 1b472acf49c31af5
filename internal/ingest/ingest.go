// Package ingest feeds the pipeline from a drop directory. Feed fetchers (or
// operators) write one JSON document per headline; the watcher surfaces them
// oldest first and the admission controller decides when each becomes a work
// item.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"newsreel/internal/logging"
)

// Headline is one ingested story candidate.
type Headline struct {
	SourceKey string `json:"source_key"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
}

// Watcher surfaces drop-directory headlines. Discovery is scan-based so a
// restart never loses files; fsnotify only wakes the admission loop early.
type Watcher struct {
	dir     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	wake    chan struct{}
}

// NewWatcher constructs a watcher over the given drop directory.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("ingest directory is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ingest directory: %w", err)
	}
	return &Watcher{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "ingest"),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Start begins translating filesystem events into wake signals. It returns
// once the notify watch is registered; the pump goroutine stops with the
// context.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch ingest directory: %w", err)
	}
	w.watcher = fsw

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename) {
					w.signal()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("ingest watch error", logging.Error(err))
			}
		}
	}()
	return nil
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Wake returns a channel that receives after new files land in the drop
// directory. It coalesces bursts into a single signal.
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// Next returns the oldest pending headline and the path backing it, or nil
// when the directory has no well-formed candidates. Malformed documents are
// quarantined with a .rejected suffix so they cannot wedge the scan.
func (w *Watcher) Next(ctx context.Context) (*Headline, string, error) {
	paths, err := w.pendingPaths()
	if err != nil {
		return nil, "", err
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		headline, err := readHeadline(path)
		if err != nil {
			w.quarantine(path, err)
			continue
		}
		return headline, path, nil
	}
	return nil, "", nil
}

// Consume removes a drop file after its headline was admitted.
func (w *Watcher) Consume(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove ingested file: %w", err)
	}
	return nil
}

func (w *Watcher) pendingPaths() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read ingest directory: %w", err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(w.dir, entry.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].modTime != candidates[j].modTime {
			return candidates[i].modTime < candidates[j].modTime
		}
		return candidates[i].path < candidates[j].path
	})

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

func (w *Watcher) quarantine(path string, cause error) {
	w.logger.Warn("rejecting malformed drop file",
		logging.String("path", path),
		logging.Error(cause))
	if err := os.Rename(path, path+".rejected"); err != nil {
		w.logger.Error("quarantine drop file", logging.Error(err))
	}
}

func readHeadline(path string) (*Headline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drop file: %w", err)
	}
	var headline Headline
	if err := json.Unmarshal(raw, &headline); err != nil {
		return nil, fmt.Errorf("parse drop file: %w", err)
	}
	headline.SourceKey = strings.TrimSpace(headline.SourceKey)
	headline.Title = strings.TrimSpace(headline.Title)
	if headline.SourceKey == "" {
		return nil, errors.New("drop file missing source_key")
	}
	if headline.Title == "" {
		return nil, errors.New("drop file missing title")
	}
	return &headline, nil
}
