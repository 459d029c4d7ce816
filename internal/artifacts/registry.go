package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"
)

// RegistryEntry is one artifact's searchable metadata, persisted in
// .registry.json.
type RegistryEntry struct {
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Keywords []string  `json:"keywords"`
	Topics   []string  `json:"topics"`
	Created  time.Time `json:"created"`
	Summary  string    `json:"summary"`
}

// registryFile is the on-disk shape of .registry.json.
type registryFile struct {
	Artifacts []RegistryEntry `json:"artifacts"`
}

// MatchConfig tunes the fuzzy-match scoring rather than hard-coding a
// threshold; the weights were settled empirically and operators may
// override them.
type MatchConfig struct {
	MinScore      int
	KeywordWeight float64
	TopicWeight   float64
}

// DefaultMatchConfig is the baked-in default; operators may override it.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{MinScore: 1, KeywordWeight: 1.0, TopicWeight: 0.75}
}

// Registry is an in-memory, file-backed index over RegistryEntry rows,
// rebuilt incrementally on Upsert and reloadable when an external change is
// observed (see Watcher).
type Registry struct {
	path   string
	config MatchConfig

	mu      sync.RWMutex
	entries []RegistryEntry
}

// NewRegistry returns a Registry backed by {artifactsRoot}/.registry.json.
// It does not touch the file: Load reads it, and the first Upsert creates it.
func NewRegistry(artifactsRoot string, config MatchConfig) *Registry {
	return &Registry{path: filepath.Join(artifactsRoot, ".registry.json"), config: config}
}

// Load reads the registry file from disk, tolerating a missing file as an
// empty registry.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.entries = nil
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("registry: reading %s: %w", r.path, err)
	}

	var parsed registryFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("registry: parsing %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.entries = parsed.Artifacts
	r.mu.Unlock()
	return nil
}

// Upsert adds or replaces the entry for entry.Path and persists the
// registry atomically.
func (r *Registry) Upsert(entry RegistryEntry) error {
	r.mu.Lock()
	replaced := false
	for i, e := range r.entries {
		if e.Path == entry.Path {
			r.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		r.entries = append(r.entries, entry)
	}
	snapshot := make([]RegistryEntry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	return r.persist(snapshot)
}

func (r *Registry) persist(entries []RegistryEntry) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(registryFile{Artifacts: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshaling: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry.json.tmp-*")
	if err != nil {
		return fmt.Errorf("registry: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("registry: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("registry: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("registry: renaming into place: %w", err)
	}
	return nil
}

// Match is one fuzzy search result.
type Match struct {
	Entry RegistryEntry
	Score float64
}

// Search fuzzy-matches query against every entry's keywords and topics,
// weighting topic matches and keyword matches independently per
// MatchConfig, and returns hits at or above MinScore sorted best-first.
// It is always a local, non-blocking in-memory read, never on the routing
// critical path beyond this call.
func (r *Registry) Search(query string) []Match {
	r.mu.RLock()
	entries := make([]RegistryEntry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	results := make([]Match, 0, len(entries))
	for _, e := range entries {
		score := r.score(query, e)
		if score >= float64(r.config.MinScore) {
			results = append(results, Match{Entry: e, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func (r *Registry) score(query string, e RegistryEntry) float64 {
	var best float64
	if m := fuzzy.Find(query, e.Keywords); len(m) > 0 {
		best = maxFloat(best, float64(m[0].Score)*r.config.KeywordWeight)
	}
	if m := fuzzy.Find(query, e.Topics); len(m) > 0 {
		best = maxFloat(best, float64(m[0].Score)*r.config.TopicWeight)
	}
	return best
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
