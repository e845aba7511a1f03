// Package dlq tracks permanently failed skill actions: dead letters carry
// their failure context for inspection, manual retry accounting, and
// archival.
package dlq

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bellmanlabs/bellman/internal/fileio"
	"github.com/bellmanlabs/bellman/internal/model"
	"github.com/bellmanlabs/bellman/internal/store"
)

// Queue stores dead letter entries. When an archive directory is configured,
// archiving additionally writes a YAML snapshot of the entry for offline
// inspection.
type Queue struct {
	store      store.Store[model.DeadLetterEntry]
	archiveDir string
	now        func() time.Time
}

func New(s store.Store[model.DeadLetterEntry]) *Queue {
	return &Queue{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiveDir enables YAML archive files under dir.
func (q *Queue) SetArchiveDir(dir string) {
	q.archiveDir = dir
}

// Add stores a new entry with archived=false. The caller's attempts value is
// kept as-is: it records how many times the action failed before landing
// here.
func (q *Queue) Add(ctx context.Context, workflowID, skillName string, actionContext map[string]any, failure string, attempts int) (model.DeadLetterEntry, error) {
	entry := model.DeadLetterEntry{
		ID:         model.NewID(model.IDTypeDeadLetter),
		WorkflowID: workflowID,
		SkillName:  skillName,
		Context:    actionContext,
		Error:      failure,
		Attempts:   attempts,
		Archived:   false,
		CreatedAt:  q.now(),
	}
	if err := q.store.Upsert(ctx, entry.ID, entry); err != nil {
		return model.DeadLetterEntry{}, fmt.Errorf("persist dead letter: %w", err)
	}
	return entry, nil
}

// Get looks up an entry, returning NotFoundError on unknown ids.
func (q *Queue) Get(ctx context.Context, id string) (model.DeadLetterEntry, error) {
	entry, ok, err := q.store.Get(ctx, id)
	if err != nil {
		return model.DeadLetterEntry{}, fmt.Errorf("load dead letter: %w", err)
	}
	if !ok {
		return model.DeadLetterEntry{}, &model.NotFoundError{Kind: "dead_letter", ID: id}
	}
	return entry, nil
}

// Retry counts one manual retry: attempts+1, lastAttemptAt=now. The archived
// flag is untouched.
func (q *Queue) Retry(ctx context.Context, id string) (model.DeadLetterEntry, error) {
	entry, err := q.Get(ctx, id)
	if err != nil {
		return model.DeadLetterEntry{}, err
	}
	now := q.now()
	entry.Attempts++
	entry.LastAttemptAt = &now
	if err := q.store.Upsert(ctx, id, entry); err != nil {
		return model.DeadLetterEntry{}, fmt.Errorf("persist retry: %w", err)
	}
	return entry, nil
}

// Archive marks the entry archived (monotonic: never cleared) and, when an
// archive dir is set, writes the YAML archive file.
func (q *Queue) Archive(ctx context.Context, id string) (model.DeadLetterEntry, error) {
	entry, err := q.Get(ctx, id)
	if err != nil {
		return model.DeadLetterEntry{}, err
	}
	entry.Archived = true
	if err := q.store.Upsert(ctx, id, entry); err != nil {
		return model.DeadLetterEntry{}, fmt.Errorf("persist archive flag: %w", err)
	}
	if q.archiveDir != "" {
		if err := q.writeArchiveFile(entry); err != nil {
			return model.DeadLetterEntry{}, err
		}
	}
	return entry, nil
}

// ListActive returns entries with archived=false in insertion order.
func (q *Queue) ListActive(ctx context.Context) ([]model.DeadLetterEntry, error) {
	return q.store.List(ctx, func(e model.DeadLetterEntry) bool { return !e.Archived })
}

// List returns all entries in insertion order.
func (q *Queue) List(ctx context.Context) ([]model.DeadLetterEntry, error) {
	return q.store.List(ctx, nil)
}

// PurgeOlderThan removes archived entries created before the retention
// cutoff. Active entries are never purged by age: they stay visible until
// someone archives them.
func (q *Queue) PurgeOlderThan(ctx context.Context, retentionDays int) (int, error) {
	cutoff := q.now().AddDate(0, 0, -retentionDays)
	stale, err := q.store.List(ctx, func(e model.DeadLetterEntry) bool {
		return e.Archived && e.CreatedAt.Before(cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("list purgeable: %w", err)
	}
	for _, entry := range stale {
		if err := q.store.Delete(ctx, entry.ID); err != nil {
			return 0, fmt.Errorf("purge %s: %w", entry.ID, err)
		}
	}
	return len(stale), nil
}

func (q *Queue) writeArchiveFile(entry model.DeadLetterEntry) error {
	if err := os.MkdirAll(q.archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	type archiveEntry struct {
		SchemaVersion int                   `yaml:"schema_version"`
		FileType      string                `yaml:"file_type"`
		Entry         model.DeadLetterEntry `yaml:"entry"`
		ArchivedAt    string                `yaml:"archived_at"`
	}

	now := q.now()
	archive := archiveEntry{
		SchemaVersion: 1,
		FileType:      "dead_letter",
		Entry:         entry,
		ArchivedAt:    now.Format(time.RFC3339),
	}

	filename := fmt.Sprintf("%s_%s_%s.yaml", entry.SkillName, now.Format("20060102T150405Z"), entry.ID)
	return fileio.AtomicWriteYAML(filepath.Join(q.archiveDir, filename), archive)
}
