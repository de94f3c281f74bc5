package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store reads and writes the artifacts of one session directory. It is
// not safe for concurrent writers of the same path; the pipeline never
// runs two stages at once, so the only concurrent access is the fan-out
// stage writing distinct files.
type Store struct {
	root string
	now  func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the timestamp source. Tests use this to pin
// error-log and report timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store rooted at the session directory.
func NewStore(sessionDir string, opts ...StoreOption) *Store {
	s := &Store{root: sessionDir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the session directory.
func (s *Store) Root() string { return s.root }

// Path resolves an artifact path relative to the session directory.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// EnsureLayout creates the session directory tree.
func (s *Store) EnsureLayout() error {
	for _, dir := range Layout() {
		if err := os.MkdirAll(s.Path(dir), 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteText writes a text artifact, creating parent directories. The
// content is stored trimmed with a single trailing newline.
func (s *Store) WriteText(rel, content string) error {
	path := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}
	data := strings.TrimSpace(content) + "\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// WriteJSON writes an indented JSON artifact with a trailing newline.
func (s *Store) WriteJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	return s.WriteText(rel, string(data))
}

// ReadText returns an artifact's content.
func (s *Store) ReadText(rel string) (string, error) {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// ReadJSON decodes a JSON artifact into out.
func (s *Store) ReadJSON(rel string, out any) error {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether an artifact file is present and non-empty.
func (s *Store) Exists(rel string) bool {
	info, err := os.Stat(s.Path(rel))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// ReadOptional returns an artifact's content, or ok=false when the file
// is absent. Downstream prompt construction substitutes an explicit
// sentinel for absent optional artifacts.
func (s *Store) ReadOptional(rel string) (string, bool) {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return "", false
	}
	return string(data), true
}

// AppendLog appends one timestamped line to metadata/generation.log.
func (s *Store) AppendLog(format string, args ...any) error {
	path := s.Path(GenerationLog)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open generation log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", s.now().Format("2006-01-02T15:04:05"), fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append generation log: %w", err)
	}
	return nil
}

// ErrorLogPath returns the per-stage error log location at the session
// root: <stage-id>_error.log.
func (s *Store) ErrorLogPath(stageID string) string {
	return s.Path(stageID + "_error.log")
}

// AppendErrorLog appends one attempt record to the stage's error log.
// Format per attempt:
//
//	=== [2026-01-02T15:04:05] attempt 2/3 ===
//	<error detail>
func (s *Store) AppendErrorLog(stageID string, attempt, maxAttempts int, cause error) error {
	f, err := os.OpenFile(s.ErrorLogPath(stageID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open error log for %s: %w", stageID, err)
	}
	defer f.Close()

	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	record := fmt.Sprintf("\n=== [%s] attempt %d/%d ===\n%s",
		s.now().Format("2006-01-02T15:04:05"), attempt, maxAttempts, detail)
	if !strings.HasSuffix(record, "\n") {
		record += "\n"
	}
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append error log for %s: %w", stageID, err)
	}
	return nil
}
