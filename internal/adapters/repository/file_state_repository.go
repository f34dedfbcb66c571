package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

const (
	DefaultStateFile = "completed_tasks.json"
	DefaultStatsFile = "walme_stats.json"
)

var _ domain.StateRepository = (*FileStateRepository)(nil)

// FileStateRepository keeps the ledger in a single indented JSON document.
type FileStateRepository struct {
	path   string
	logger zerolog.Logger

	mu sync.Mutex
}

func NewFileStateRepository(path string, logger zerolog.Logger) *FileStateRepository {
	return &FileStateRepository{path: path, logger: logger}
}

func (r *FileStateRepository) Path() string {
	return r.path
}

func (r *FileStateRepository) Load(ctx context.Context) (domain.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read()
}

func (r *FileStateRepository) read() (domain.Ledger, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info().Str("path", r.path).Msg("No state file yet, starting fresh")
		return domain.Ledger{}, nil
	}
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("failed to read state file: %w", err)
	}

	ledger := domain.Ledger{}
	if len(data) == 0 {
		return ledger, nil
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return domain.Ledger{}, fmt.Errorf("failed to decode state file %s: %w", r.path, err)
	}

	for email := range ledger {
		ledger.Ensure(email)
	}
	return ledger, nil
}

// Save unions ledger into whatever the file already holds and rewrites it.
func (r *FileStateRepository) Save(ctx context.Context, ledger domain.Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	merged, err := r.read()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Overwriting unreadable state file")
		merged = domain.Ledger{}
	}
	merged.Merge(ledger)

	return writeJSON(r.path, merged)
}

// FileStatsWriter writes the latest statistics as indented JSON.
type FileStatsWriter struct {
	path string
	mu   sync.Mutex
}

var _ domain.StatsWriter = (*FileStatsWriter)(nil)

func NewFileStatsWriter(path string) *FileStatsWriter {
	return &FileStatsWriter{path: path}
}

func (w *FileStatsWriter) WriteStats(ctx context.Context, stats *domain.RunStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if stats == nil {
		return nil
	}
	return writeJSON(w.path, stats)
}

// writeJSON goes through a temp file in the same directory so readers never
// see a half-written document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
