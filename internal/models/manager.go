package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nupi-ai/plugin-stt-local-funasr/internal/funasr"
)

// DefaultLockMaxAge is the age after which a leftover download lock is removed.
const DefaultLockMaxAge = 10 * time.Minute

// ErrModelMissing is returned by Resolve when model files are not on disk.
var ErrModelMissing = errors.New("models: model files missing")

// Paths maps a file role (encoder, tokens, ...) to its location on disk.
type Paths map[string]string

// Manager resolves and downloads model files below a cache directory.
type Manager struct {
	cacheDir string
	log      *slog.Logger
	client   *http.Client
}

// NewManager creates the cache directory when needed.
func NewManager(cacheDir string, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(cacheDir) == "" {
		return nil, errors.New("models: cache directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("models: create cache dir: %w", err)
	}
	return &Manager{
		cacheDir: cacheDir,
		log:      logger.With("component", "models.Manager", "cache_dir", cacheDir),
		client:   &http.Client{Timeout: 30 * time.Minute},
	}, nil
}

// CacheDir returns the managed directory.
func (m *Manager) CacheDir() string { return m.cacheDir }

// ModelDir is where the files of spec live.
func (m *Manager) ModelDir(spec funasr.ModelSpec) string {
	return filepath.Join(m.cacheDir, "models", spec.Name, spec.Revision)
}

// Resolve returns the on-disk paths of every file of model.
func (m *Manager) Resolve(model Model) (Paths, error) {
	dir := m.ModelDir(model.Spec())
	paths := make(Paths, len(model.Files))
	var missing []string
	for _, f := range model.Files {
		path := filepath.Join(dir, f.Filename)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, f.Filename)
			continue
		}
		paths[f.Role] = path
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrModelMissing, model.Spec(), strings.Join(missing, ", "))
	}
	return paths, nil
}

// EnsureOptions tunes Ensure.
type EnsureOptions struct {
	// Offline forbids downloads; missing files become an error.
	Offline bool
}

// Ensure downloads any missing file of model and returns the resolved paths.
func (m *Manager) Ensure(ctx context.Context, model Model, opts EnsureOptions) (Paths, error) {
	if paths, err := m.Resolve(model); err == nil {
		return paths, nil
	} else if opts.Offline {
		return nil, err
	}

	dir := m.ModelDir(model.Spec())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("models: create model dir: %w", err)
	}

	release, err := m.lock(model.Spec())
	if err != nil {
		return nil, err
	}
	defer release()

	for _, f := range model.Files {
		path := filepath.Join(dir, f.Filename)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if f.URL == "" {
			return nil, fmt.Errorf("%w: %s has no download URL", ErrModelMissing, f.Filename)
		}
		m.log.Info("downloading model file", "model", model.Spec().String(), "file", f.Filename)
		if err := m.download(ctx, f, path); err != nil {
			return nil, err
		}
	}
	return m.Resolve(model)
}

func (m *Manager) download(ctx context.Context, f File, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("models: build request for %s: %w", f.Filename, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("models: download %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download %s: unexpected status %s", f.Filename, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("models: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("models: write %s: %w", f.Filename, err)
	}

	if f.SizeBytes > 0 && written != f.SizeBytes {
		return fmt.Errorf("models: %s size mismatch: want %d, got %d", f.Filename, f.SizeBytes, written)
	}
	if f.SHA256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(sum, f.SHA256) {
			return fmt.Errorf("models: %s checksum mismatch: want %s, got %s", f.Filename, f.SHA256, sum)
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("models: install %s: %w", f.Filename, err)
	}
	return nil
}

func (m *Manager) lockDir() string {
	return filepath.Join(m.cacheDir, ".lock")
}

func (m *Manager) lock(spec funasr.ModelSpec) (func(), error) {
	if err := os.MkdirAll(m.lockDir(), 0o755); err != nil {
		return nil, fmt.Errorf("models: create lock dir: %w", err)
	}
	path := filepath.Join(m.lockDir(), spec.Name+"@"+spec.Revision)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("models: %s is locked by another download", spec)
		}
		return nil, fmt.Errorf("models: acquire lock: %w", err)
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}

// CleanStaleLocks removes download locks older than maxAge and returns how many
// were removed.
func (m *Manager) CleanStaleLocks(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultLockMaxAge
	}
	entries, err := os.ReadDir(m.lockDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("models: read lock dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.lockDir(), entry.Name())); err != nil {
			m.log.Warn("failed to remove stale lock", "lock", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("removed stale download locks", "count", removed)
	}
	return removed, nil
}
