// Package workspace manages the per-user scratch directories the
// builtin file tools operate on: path resolution that cannot escape a
// user's directory, extension allow-lists, a per-file size cap, and
// TTL-based cleanup of stale files.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxFileBytes caps individual workspace files at 5 MB.
	DefaultMaxFileBytes = 5 << 20

	// DefaultTTL is how long workspace files live before cleanup.
	DefaultTTL = 24 * time.Hour

	defaultCleanupInterval = time.Hour
)

// DefaultTextExtensions lists the extensions plain-text writes accept.
var DefaultTextExtensions = []string{
	".txt", ".md", ".json", ".csv", ".xml", ".yaml", ".yml",
	".html", ".css", ".js", ".py", ".log",
}

// DefaultBinaryExtensions lists the extensions base64 writes and
// download saves accept. Spreadsheet tools depend on .xlsx being here.
var DefaultBinaryExtensions = []string{
	".xlsx", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".zip", ".bin",
}

// Config tunes the workspace manager. Zero values select defaults.
type Config struct {
	Root             string
	MaxFileBytes     int64
	TTL              time.Duration
	CleanupInterval  time.Duration
	TextExtensions   []string
	BinaryExtensions []string
}

// Manager owns the workspace root. All paths handed to tools resolve
// through it.
type Manager struct {
	config Config
	text   map[string]bool
	binary map[string]bool
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager applies defaults and returns a manager. The root
// directory is created lazily per user.
func NewManager(config Config) *Manager {
	if config.Root == "" {
		config.Root = filepath.Join(os.TempDir(), "toolgate-workspaces")
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = DefaultMaxFileBytes
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}
	if len(config.TextExtensions) == 0 {
		config.TextExtensions = DefaultTextExtensions
	}
	if len(config.BinaryExtensions) == 0 {
		config.BinaryExtensions = DefaultBinaryExtensions
	}

	text := make(map[string]bool, len(config.TextExtensions))
	for _, ext := range config.TextExtensions {
		text[strings.ToLower(ext)] = true
	}
	binary := make(map[string]bool, len(config.BinaryExtensions))
	for _, ext := range config.BinaryExtensions {
		binary[strings.ToLower(ext)] = true
	}

	return &Manager{
		config: config,
		text:   text,
		binary: binary,
		logger: slog.Default().With("component", "workspace"),
	}
}

// Root returns the workspace base directory.
func (m *Manager) Root() string { return m.config.Root }

// MaxFileBytes returns the per-file size cap.
func (m *Manager) MaxFileBytes() int64 { return m.config.MaxFileBytes }

// UserDir ensures and returns the directory for a user. User ids come
// from JWT subjects and may contain separators; they are flattened to
// a single path element.
func (m *Manager) UserDir(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	dir := filepath.Join(m.config.Root, flattenID(userID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create user workspace: %w", err)
	}
	return dir, nil
}

// Resolve validates a workspace-relative file name for a user and
// returns its absolute path. Absolute names and anything escaping the
// user directory are rejected.
func (m *Manager) Resolve(userID, name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", fmt.Errorf("file name is required")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("path must be relative to the workspace")
	}
	dir, err := m.UserDir(userID)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return target, nil
}

// IsBinaryExt reports whether the extension is on the binary
// allow-list. Extensions compare case-insensitively with the dot.
func (m *Manager) IsBinaryExt(ext string) bool {
	return m.binary[strings.ToLower(ext)]
}

// IsTextExt reports whether the extension is on the text allow-list.
func (m *Manager) IsTextExt(ext string) bool {
	return m.text[strings.ToLower(ext)]
}

// WriteFile writes data to a user's workspace. Text writes require a
// text-extension name; binary writes (already base64-decoded by the
// caller) require a binary extension. The size cap applies to the
// decoded bytes.
func (m *Manager) WriteFile(userID, name string, data []byte, binary bool) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if binary {
		if !m.binary[ext] {
			return "", fmt.Errorf("extension %q is not on the binary allow-list", ext)
		}
	} else if !m.text[ext] {
		return "", fmt.Errorf("extension %q is not on the allow-list", ext)
	}
	if int64(len(data)) > m.config.MaxFileBytes {
		return "", fmt.Errorf("file exceeds the %d byte limit", m.config.MaxFileBytes)
	}

	path, err := m.Resolve(userID, name)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create parent directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// ReadFile reads a workspace file. The second return reports whether
// the name carries a binary extension, so callers know to re-encode.
func (m *Manager) ReadFile(userID, name string) ([]byte, bool, error) {
	path, err := m.Resolve(userID, name)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > m.config.MaxFileBytes {
		return nil, false, fmt.Errorf("file exceeds the %d byte limit", m.config.MaxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	return data, m.IsBinaryExt(filepath.Ext(name)), nil
}

// SaveDownload stores a fetched binary body under a generated name and
// returns the workspace-relative reference. Unknown extensions fall
// back to .bin so the file stays on the allow-list.
func (m *Manager) SaveDownload(userID, suggestedName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(suggestedName))
	if !m.binary[ext] {
		ext = ".bin"
	}
	name := fmt.Sprintf("download-%s%s", uuid.NewString()[:8], ext)
	if _, err := m.WriteFile(userID, name, data, true); err != nil {
		return "", err
	}
	return name, nil
}

// Cleanup removes workspace files whose mtime is older than the TTL.
// It returns the number of files removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.config.TTL)
	removed := 0

	err := filepath.WalkDir(m.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				m.logger.Warn("cleanup remove failed", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return removed, fmt.Errorf("walk workspaces: %w", err)
	}
	if removed > 0 {
		m.logger.Info("workspace cleanup", "removed", removed)
	}
	return removed, nil
}

// Start launches the periodic cleanup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := m.Cleanup(loopCtx); err != nil && loopCtx.Err() == nil {
					m.logger.Warn("workspace cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the cleanup loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// flattenID maps a user id to a single safe path element.
func flattenID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}
