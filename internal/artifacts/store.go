// Package artifacts implements the session-scoped artifact store: atomic
// writes (temp file + fsync + rename), rotating backups, and a
// fuzzy-searchable registry over markdown artifacts.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Mode selects which on-disk layout the Store reads and writes:
// SessionScoped is canonical, LegacyFlat is a compatibility adapter over
// the older flat layout.
type Mode int

const (
	SessionScoped Mode = iota
	LegacyFlat
)

// MaxBackups bounds the rotating backups kept per artifact.
const MaxBackups = 10

// ArtifactInfo describes one artifact without its content, as returned by
// List.
type ArtifactInfo struct {
	SessionID string
	Name      string
	Size      int64
	ModTime   time.Time
}

// DiffSummary reports the line-level delta computed between an artifact's
// previous revision and the one just written.
type DiffSummary struct {
	LinesAdded   int
	LinesRemoved int
}

// Store is the interface the orchestrator's SessionStorePort-adjacent code
// depends on for artifact persistence.
type Store interface {
	Write(sessionID, name string, content []byte) (DiffSummary, error)
	Read(sessionID, name string) ([]byte, error)
	List(sessionID string) ([]ArtifactInfo, error)
}

// FileStore is the default Store implementation: one directory tree rooted
// at Root, session-scoped by default.
type FileStore struct {
	Root string
	Mode Mode
}

// NewFileStore builds a FileStore rooted at root. WORKSTATION_ARTIFACTS_PATH
// overrides root when callers pass an empty string.
func NewFileStore(root string, mode Mode) *FileStore {
	if root == "" {
		if envRoot := os.Getenv("WORKSTATION_ARTIFACTS_PATH"); envRoot != "" {
			root = envRoot
		} else {
			root = "./sessions"
		}
	}
	return &FileStore{Root: root, Mode: mode}
}

func (s *FileStore) artifactsDir(sessionID string) string {
	if s.Mode == LegacyFlat {
		return filepath.Join(s.Root, "artifacts")
	}
	return filepath.Join(s.Root, "sessions", sessionID, "artifacts")
}

func (s *FileStore) backupsDir(sessionID string) string {
	return filepath.Join(s.artifactsDir(sessionID), "backups")
}

// Write persists content atomically (temp file + fsync + rename), rotating
// the previous revision into backups/ first, and returns a diff summary
// against that previous revision.
func (s *FileStore) Write(sessionID, name string, content []byte) (DiffSummary, error) {
	dir := s.artifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DiffSummary{}, fmt.Errorf("artifacts: creating %s: %w", dir, err)
	}

	target := filepath.Join(dir, name)
	var diff DiffSummary
	if prev, err := os.ReadFile(target); err == nil {
		diff = computeDiff(string(prev), string(content))
		if err := s.rotateBackup(sessionID, name, prev); err != nil {
			wslog.Warn(wslog.CatArtifacts, "backup rotation failed", "session_id", sessionID, "name", name, "err", err)
		}
	} else {
		diff = computeDiff("", string(content))
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return DiffSummary{}, fmt.Errorf("artifacts: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return DiffSummary{}, fmt.Errorf("artifacts: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return DiffSummary{}, fmt.Errorf("artifacts: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return DiffSummary{}, fmt.Errorf("artifacts: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return DiffSummary{}, fmt.Errorf("artifacts: renaming into place: %w", err)
	}

	wslog.Debug(wslog.CatArtifacts, "artifact written", "session_id", sessionID, "name", name,
		"lines_added", diff.LinesAdded, "lines_removed", diff.LinesRemoved)
	return diff, nil
}

// rotateBackup copies the previous revision into backups/{name}.{ts}.md,
// timestamp with ':'/'.' replaced by '-' so the name stays portable, then
// prunes to MaxBackups.
func (s *FileStore) rotateBackup(sessionID, name string, prev []byte) error {
	dir := s.backupsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	ts := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339Nano))
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s.md", name, ts))
	if err := os.WriteFile(backupPath, prev, 0o644); err != nil {
		return fmt.Errorf("artifacts: writing backup: %w", err)
	}

	return s.pruneBackups(dir, name)
}

func (s *FileStore) pruneBackups(dir, name string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	prefix := name + "."
	var matches []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name() < matches[j].Name() })

	for len(matches) > MaxBackups {
		if err := os.Remove(filepath.Join(dir, matches[0].Name())); err != nil {
			return err
		}
		matches = matches[1:]
	}
	return nil
}

// Read returns an artifact's current content.
func (s *FileStore) Read(sessionID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.artifactsDir(sessionID), name))
	if err != nil {
		return nil, fmt.Errorf("artifacts: reading %s: %w", name, err)
	}
	return data, nil
}

// List enumerates artifacts for a session (or, in LegacyFlat mode, every
// artifact in the flat directory regardless of sessionID).
func (s *FileStore) List(sessionID string) ([]ArtifactInfo, error) {
	dir := s.artifactsDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifacts: listing %s: %w", dir, err)
	}

	var out []ArtifactInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ArtifactInfo{SessionID: sessionID, Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

func computeDiff(prev, next string) DiffSummary {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(prev, next, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var summary DiffSummary
	for _, d := range diffs {
		lines := strings.Count(d.Text, "\n")
		if d.Text != "" && !strings.HasSuffix(d.Text, "\n") {
			lines++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			summary.LinesAdded += lines
		case diffmatchpatch.DiffDelete:
			summary.LinesRemoved += lines
		}
	}
	return summary
}
