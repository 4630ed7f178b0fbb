package blog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/scribehq/scribe-backend/internal/metrics"
	"github.com/scribehq/scribe-backend/pkg/kv"
	"go.uber.org/zap"
)

// Storage keys
const (
	// KeyPosts holds the JSON-serialized array of all post records.
	KeyPosts = "scribe:posts"
	// KeyDraftPrefix prefixes per-post draft backup snapshots.
	KeyDraftPrefix = "scribe:draft:"
)

// DefaultCapacityBytes caps the serialized size of the full post collection.
const DefaultCapacityBytes = 5 * 1024 * 1024

// ErrNotFound is returned when a post id is unknown to the store.
var ErrNotFound = errors.New("post not found")

// ErrInvalidImport is returned when an import payload cannot be parsed.
var ErrInvalidImport = errors.New("invalid import data")

// CapacityError reports a write rejected because the serialized collection
// would exceed the configured cap. The store is left unchanged.
type CapacityError struct {
	Used  int64
	Limit int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("storage capacity exceeded: %s needed, %s allowed",
		formatBytes(e.Used), formatBytes(e.Limit))
}

func formatBytes(n int64) string {
	const (
		kib = 1024
		mib = 1024 * kib
	)
	switch {
	case n >= mib:
		return fmt.Sprintf("%.2f MiB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.2f KiB", float64(n)/kib)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Store persists post records as a single serialized collection under
// KeyPosts. The read-modify-write cycle is not atomic across processes;
// concurrent writers are last-writer-wins.
type Store struct {
	kv      kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	limit   int64
}

// NewStore creates a post store on top of the given kv handle. A limit of 0
// selects DefaultCapacityBytes. metrics may be nil.
func NewStore(kvStore kv.Store, logger *zap.SugaredLogger, m *metrics.Metrics, limit int64) *Store {
	if limit <= 0 {
		limit = DefaultCapacityBytes
	}
	return &Store{
		kv:      kvStore,
		logger:  logger,
		metrics: m,
		limit:   limit,
	}
}

// CreateInput carries the caller-supplied fields for a new post.
type CreateInput struct {
	Title          string   `json:"title"`
	Tags           []string `json:"tags"`
	SEOTitle       string   `json:"seoTitle"`
	SEODescription string   `json:"seoDescription"`
	SEOKeywords    []string `json:"seoKeywords"`
}

// UpdatePatch is a partial update; nil fields are left untouched.
type UpdatePatch struct {
	Title          *string         `json:"title"`
	Status         *PostStatus     `json:"status"`
	Content        *[]ContentBlock `json:"content"`
	Tags           *[]string       `json:"tags"`
	FeaturedImage  *ImageAsset     `json:"featuredImage"`
	PublishedAt    *time.Time      `json:"publishedAt"`
	ScheduledAt    *time.Time      `json:"scheduledAt"`
	SEOTitle       *string         `json:"seoTitle"`
	SEODescription *string         `json:"seoDescription"`
	SEOKeywords    *[]string       `json:"seoKeywords"`
}

// ListFilter narrows and orders List results.
type ListFilter struct {
	Status PostStatus // empty selects all statuses
	Sort   string     // "newest" (default) or "oldest" by creation time
}

// ImportResult reports the outcome of ImportAll.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// UsageStats describes how much of the capacity cap the collection uses.
type UsageStats struct {
	BytesUsed   int64   `json:"bytesUsed"`
	ByteLimit   int64   `json:"byteLimit"`
	PercentUsed float64 `json:"percentUsed"`
	RecordCount int     `json:"recordCount"`
}

// loadAll reads the full collection. Missing, unparseable, or wrong-shaped
// data is treated as an empty collection; records failing schema validation
// are dropped. Read errors never propagate to callers.
func (s *Store) loadAll(ctx context.Context) []Post {
	data, err := s.kv.Get(ctx, KeyPosts)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) && s.logger != nil {
			s.logger.Warnw("Post collection unreadable, treating as empty", "error", err)
		}
		return []Post{}
	}

	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		if s.logger != nil {
			s.logger.Warnw("Post collection corrupt, treating as empty", "error", err)
		}
		return []Post{}
	}

	valid := posts[:0]
	for _, post := range posts {
		if err := post.validate(); err != nil {
			if s.logger != nil {
				s.logger.Warnw("Dropping invalid post record", "error", err)
			}
			continue
		}
		valid = append(valid, post)
	}

	return valid
}

// persist writes the full collection back, enforcing the capacity cap.
// Rejected writes leave the stored collection untouched.
func (s *Store) persist(ctx context.Context, posts []Post) error {
	data, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("serialize posts: %w", err)
	}

	if int64(len(data)) > s.limit {
		if s.metrics != nil {
			s.metrics.RecordCapacityRejection(ctx)
		}
		return &CapacityError{Used: int64(len(data)), Limit: s.limit}
	}

	if err := s.kv.Set(ctx, KeyPosts, data); err != nil {
		return fmt.Errorf("write posts: %w", err)
	}
	return nil
}

// List returns all records, optionally filtered by status, sorted by
// creation time. Corrupt or missing data yields an empty slice.
func (s *Store) List(ctx context.Context, filter ListFilter) []Post {
	posts := s.loadAll(ctx)

	if filter.Status != "" {
		filtered := posts[:0]
		for _, post := range posts {
			if post.Status == filter.Status {
				filtered = append(filtered, post)
			}
		}
		posts = filtered
	}

	oldest := filter.Sort == "oldest"
	sort.SliceStable(posts, func(i, j int) bool {
		if oldest {
			return posts[i].CreatedAt.Before(posts[j].CreatedAt)
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})

	return posts
}

// Get returns the record with the given id, or false if it is unknown or
// failed schema validation on read.
func (s *Store) Get(ctx context.Context, id string) (*Post, bool) {
	for _, post := range s.loadAll(ctx) {
		if post.ID == id {
			return &post, true
		}
	}
	return nil, false
}

// Create constructs a new draft with empty content and derived metadata.
func (s *Store) Create(ctx context.Context, input CreateInput) (*Post, error) {
	now := time.Now().UTC()

	post := Post{
		ID:             uuid.NewString(),
		Title:          input.Title,
		Slug:           Slugify(input.Title),
		Status:         StatusDraft,
		Content:        []ContentBlock{},
		Tags:           input.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
		SEOTitle:       input.SEOTitle,
		SEODescription: input.SEODescription,
		SEOKeywords:    input.SEOKeywords,
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	post.Metadata = ComputeMetadata(&post)

	posts := append(s.loadAll(ctx), post)
	if err := s.persist(ctx, posts); err != nil {
		return nil, err
	}

	return &post, nil
}

// Update merges the patch into the record, recomputes derived metadata, and
// bumps updatedAt. id and createdAt are never touched. Returns ErrNotFound
// for unknown ids and a CapacityError when the result would exceed the cap;
// in both cases the stored collection is unchanged.
func (s *Store) Update(ctx context.Context, id string, patch UpdatePatch) (*Post, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", *patch.Status)
	}

	posts := s.loadAll(ctx)
	idx := -1
	for i := range posts {
		if posts[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrNotFound
	}

	post := posts[idx]
	applyPatch(&post, patch)
	post.Metadata = ComputeMetadata(&post)
	post.UpdatedAt = time.Now().UTC()

	posts[idx] = post
	if err := s.persist(ctx, posts); err != nil {
		return nil, err
	}

	return &post, nil
}

func applyPatch(post *Post, patch UpdatePatch) {
	if patch.Title != nil {
		post.Title = *patch.Title
		post.Slug = Slugify(*patch.Title)
	}
	if patch.Status != nil {
		post.Status = *patch.Status
		if *patch.Status == StatusPublished && post.PublishedAt == nil {
			now := time.Now().UTC()
			post.PublishedAt = &now
		}
	}
	if patch.Content != nil {
		post.Content = *patch.Content
	}
	if patch.Tags != nil {
		post.Tags = *patch.Tags
	}
	if patch.FeaturedImage != nil {
		post.FeaturedImage = patch.FeaturedImage
	}
	if patch.PublishedAt != nil {
		post.PublishedAt = patch.PublishedAt
	}
	if patch.ScheduledAt != nil {
		post.ScheduledAt = patch.ScheduledAt
	}
	if patch.SEOTitle != nil {
		post.SEOTitle = *patch.SEOTitle
	}
	if patch.SEODescription != nil {
		post.SEODescription = *patch.SEODescription
	}
	if patch.SEOKeywords != nil {
		post.SEOKeywords = *patch.SEOKeywords
	}
}

// Save upserts a full post payload, recomputing derived metadata and
// bumping updatedAt. Unknown ids are inserted; this is the commit path for
// autosaved edits, which may arrive before the record was ever listed.
func (s *Store) Save(ctx context.Context, post *Post) error {
	if err := post.validate(); err != nil {
		return fmt.Errorf("invalid post payload: %w", err)
	}

	saved := *post
	saved.Slug = Slugify(saved.Title)
	saved.Metadata = ComputeMetadata(&saved)
	saved.UpdatedAt = time.Now().UTC()

	posts := s.loadAll(ctx)
	idx := -1
	for i := range posts {
		if posts[i].ID == saved.ID {
			idx = i
			break
		}
	}

	if idx == -1 {
		posts = append(posts, saved)
	} else {
		// createdAt is immutable once stored.
		saved.CreatedAt = posts[idx].CreatedAt
		posts[idx] = saved
	}

	return s.persist(ctx, posts)
}

// Delete removes the record with the given id. Deleting an unknown id is a
// no-op success; the bool reports whether a record was actually removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	posts := s.loadAll(ctx)

	remaining := posts[:0]
	found := false
	for _, post := range posts {
		if post.ID == id {
			found = true
			continue
		}
		remaining = append(remaining, post)
	}

	if !found {
		return false, nil
	}

	if err := s.persist(ctx, remaining); err != nil {
		return false, err
	}
	return true, nil
}

// Duplicate copies the record under a fresh id with a derived slug, draft
// status, cleared publish timestamp, and fresh timestamps.
func (s *Store) Duplicate(ctx context.Context, id string) (*Post, error) {
	posts := s.loadAll(ctx)

	var source *Post
	for i := range posts {
		if posts[i].ID == id {
			source = &posts[i]
			break
		}
	}
	if source == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	copied := *source
	copied.ID = uuid.NewString()
	copied.Title = source.Title + " (Copy)"
	copied.Slug = Slugify(copied.Title)
	copied.Status = StatusDraft
	copied.PublishedAt = nil
	copied.ScheduledAt = nil
	copied.CreatedAt = now
	copied.UpdatedAt = now
	copied.Content = append([]ContentBlock(nil), source.Content...)
	copied.Tags = append([]string(nil), source.Tags...)
	copied.Metadata = ComputeMetadata(&copied)

	posts = append(posts, copied)
	if err := s.persist(ctx, posts); err != nil {
		return nil, err
	}

	return &copied, nil
}

// ExportAll serializes the full collection as pretty-printed JSON.
func (s *Store) ExportAll(ctx context.Context) ([]byte, error) {
	posts := s.loadAll(ctx)
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize posts: %w", err)
	}
	return data, nil
}

// ImportAll merges records whose ids are not already present. Existing ids
// and records failing validation are skipped, never overwritten.
func (s *Store) ImportAll(ctx context.Context, data []byte) (ImportResult, error) {
	var incoming []Post
	if err := json.Unmarshal(data, &incoming); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	posts := s.loadAll(ctx)
	existing := make(map[string]struct{}, len(posts))
	for _, post := range posts {
		existing[post.ID] = struct{}{}
	}

	var result ImportResult
	for _, post := range incoming {
		if err := post.validate(); err != nil {
			result.Skipped++
			continue
		}
		if _, ok := existing[post.ID]; ok {
			result.Skipped++
			continue
		}
		existing[post.ID] = struct{}{}
		posts = append(posts, post)
		result.Imported++
	}

	if result.Imported > 0 {
		if err := s.persist(ctx, posts); err != nil {
			return ImportResult{}, err
		}
	}

	return result, nil
}

// UsageStats reports serialized collection size against the capacity cap.
func (s *Store) UsageStats(ctx context.Context) (UsageStats, error) {
	posts := s.loadAll(ctx)
	data, err := json.Marshal(posts)
	if err != nil {
		return UsageStats{}, fmt.Errorf("serialize posts: %w", err)
	}

	used := int64(len(data))
	return UsageStats{
		BytesUsed:   used,
		ByteLimit:   s.limit,
		PercentUsed: float64(used) / float64(s.limit) * 100,
		RecordCount: len(posts),
	}, nil
}
