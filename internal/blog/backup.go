package blog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/scribehq/scribe-backend/internal/metrics"
	"github.com/scribehq/scribe-backend/pkg/kv"
	"go.uber.org/zap"
)

// PlaceholderID keys backups of posts that have not been persisted yet and
// therefore carry no identifier.
const PlaceholderID = "unsaved"

// DraftSnapshot is one timestamped draft backup.
type DraftSnapshot struct {
	Post    Post      `json:"post"`
	SavedAt time.Time `json:"savedAt"`
}

// DraftBackup mirrors the latest in-flight edit of each post, independent of
// whether the main store commit succeeds. All writes are best-effort: a
// failed backup never fails the caller's save workflow.
type DraftBackup struct {
	kv      kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewDraftBackup creates a draft backup over the given kv handle.
// metrics may be nil.
func NewDraftBackup(kvStore kv.Store, logger *zap.SugaredLogger, m *metrics.Metrics) *DraftBackup {
	return &DraftBackup{kv: kvStore, logger: logger, metrics: m}
}

func backupKey(id string) string {
	if id == "" {
		id = PlaceholderID
	}
	return KeyDraftPrefix + id
}

// Write stores a timestamped snapshot of the post under its backup key.
// Failures are logged and swallowed.
func (b *DraftBackup) Write(ctx context.Context, post *Post) {
	snapshot := DraftSnapshot{Post: *post, SavedAt: time.Now().UTC()}

	data, err := json.Marshal(snapshot)
	if err == nil {
		err = b.kv.Set(ctx, backupKey(post.ID), data)
	}

	if b.metrics != nil {
		b.metrics.RecordBackupWrite(ctx, err == nil)
	}
	if err != nil && b.logger != nil {
		b.logger.Warnw("Draft backup write failed", "post_id", post.ID, "error", err)
	}
}

// Read returns the backup snapshot for the given post id, if present and
// parseable.
func (b *DraftBackup) Read(ctx context.Context, id string) (*DraftSnapshot, bool) {
	data, err := b.kv.Get(ctx, backupKey(id))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) && b.logger != nil {
			b.logger.Warnw("Draft backup unreadable", "post_id", id, "error", err)
		}
		return nil, false
	}

	var snapshot DraftSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if b.logger != nil {
			b.logger.Warnw("Draft backup corrupt", "post_id", id, "error", err)
		}
		return nil, false
	}

	return &snapshot, true
}

// Delete removes the backup for the given post id. Missing backups are a
// no-op.
func (b *DraftBackup) Delete(ctx context.Context, id string) {
	if _, err := b.kv.Del(ctx, backupKey(id)); err != nil && b.logger != nil {
		b.logger.Warnw("Draft backup delete failed", "post_id", id, "error", err)
	}
}

// List returns all backup snapshots, newest first. Corrupt snapshots are
// skipped.
func (b *DraftBackup) List(ctx context.Context) []DraftSnapshot {
	keys, err := b.kv.Keys(ctx, KeyDraftPrefix)
	if err != nil {
		if b.logger != nil {
			b.logger.Warnw("Draft backup listing failed", "error", err)
		}
		return []DraftSnapshot{}
	}
	if len(keys) == 0 {
		return []DraftSnapshot{}
	}

	snapshots := make([]DraftSnapshot, 0, len(keys))
	values, err := b.kv.MGet(ctx, keys...)
	if err != nil {
		if b.logger != nil {
			b.logger.Warnw("Draft backup read failed", "error", err)
		}
		return []DraftSnapshot{}
	}

	for i, data := range values {
		if data == nil {
			continue
		}
		var snapshot DraftSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			if b.logger != nil {
				b.logger.Warnw("Draft backup corrupt", "key", keys[i], "error", err)
			}
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].SavedAt.After(snapshots[j].SavedAt)
	})

	return snapshots
}
