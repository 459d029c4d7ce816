package workstation

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jaxs-ribs/codewalk/internal/artifacts"
	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// archivingStore is the binary's ports.SessionStorePort: every snapshot
// lands in the SQLite index, and a terminal snapshot (completed or failed)
// is additionally archived as a markdown artifact and registered for fuzzy
// lookup. Archival is best-effort — an artifact write failure never fails
// the Save, since the index row is the record the orchestrator depends on.
type archivingStore struct {
	index    ports.SessionStorePort
	files    *artifacts.FileStore
	registry *artifacts.Registry
}

func (s *archivingStore) Save(ctx context.Context, snapshot event.SessionSnapshot) error {
	if err := s.index.Save(ctx, snapshot); err != nil {
		return err
	}
	if snapshot.Status == "completed" || snapshot.Status == "failed" {
		s.archive(snapshot)
	}
	return nil
}

func (s *archivingStore) Load(ctx context.Context, sessionID string) (event.SessionSnapshot, error) {
	return s.index.Load(ctx, sessionID)
}

func (s *archivingStore) ListRecent(ctx context.Context, n int) ([]event.SessionSnapshot, error) {
	return s.index.ListRecent(ctx, n)
}

func (s *archivingStore) archive(snapshot event.SessionSnapshot) {
	if _, err := s.files.Write(snapshot.SessionID, "session.md", renderSessionArtifact(snapshot)); err != nil {
		wslog.Warn(wslog.CatArtifacts, "session artifact write failed", "session_id", snapshot.SessionID, "err", err)
		return
	}
	entry := artifacts.RegistryEntry{
		Path:     path.Join("sessions", snapshot.SessionID, "artifacts", "session.md"),
		Type:     "session",
		Keywords: []string{string(snapshot.Kind), snapshot.Status, snapshot.SessionID},
		Created:  snapshot.UpdatedAt,
		Summary:  snapshot.Summary,
	}
	if err := s.registry.Upsert(entry); err != nil {
		wslog.Warn(wslog.CatArtifacts, "registry update failed", "session_id", snapshot.SessionID, "err", err)
	}
}

func renderSessionArtifact(snapshot event.SessionSnapshot) []byte {
	body := fmt.Sprintf(`# Session %s

- executor: %s
- status: %s
- log lines: %d
- finished: %s

%s
`,
		snapshot.SessionID,
		snapshot.Kind,
		snapshot.Status,
		snapshot.LogCount,
		snapshot.UpdatedAt.UTC().Format(time.RFC3339),
		snapshot.Summary,
	)
	return []byte(body)
}
