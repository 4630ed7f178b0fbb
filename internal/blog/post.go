package blog

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusScheduled PostStatus = "scheduled"
	StatusPublished PostStatus = "published"
	StatusArchived  PostStatus = "archived"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// BlockType tags a content block.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockImage     BlockType = "image"
	BlockVideo     BlockType = "video"
	BlockCallout   BlockType = "callout"
	BlockCode      BlockType = "code"
	BlockQuote     BlockType = "quote"
)

// ContentBlock is one ordered unit of post content. Text carries the raw
// text/markdown payload; URL is set for image and video blocks.
type ContentBlock struct {
	Type  BlockType `json:"type"`
	Order int       `json:"order"`
	Text  string    `json:"text,omitempty"`
	URL   string    `json:"url,omitempty"`
}

// Dimensions holds pixel dimensions of an image asset.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageAsset describes a processed upload.
type ImageAsset struct {
	URL        string     `json:"url"`
	Size       int64      `json:"size"`
	Dimensions Dimensions `json:"dimensions"`
}

// PostMetadata is derived from content and SEO inputs; it is never edited
// directly.
type PostMetadata struct {
	WordCount   int      `json:"wordCount"`
	ReadingTime int      `json:"readingTime"`
	SEOScore    int      `json:"seoScore"`
	Excerpt     string   `json:"excerpt"`
	Keywords    []string `json:"keywords"`
}

// Post is the unit of persistence.
type Post struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Slug           string         `json:"slug"`
	Status         PostStatus     `json:"status"`
	Content        []ContentBlock `json:"content"`
	Metadata       PostMetadata   `json:"metadata"`
	Tags           []string       `json:"tags"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	FeaturedImage  *ImageAsset    `json:"featuredImage,omitempty"`
	PublishedAt    *time.Time     `json:"publishedAt,omitempty"`
	ScheduledAt    *time.Time     `json:"scheduledAt,omitempty"`
	SEOTitle       string         `json:"seoTitle,omitempty"`
	SEODescription string         `json:"seoDescription,omitempty"`
	SEOKeywords    []string       `json:"seoKeywords,omitempty"`
}

// validate checks the fields a stored record must carry to be usable.
// Records failing validation are treated as absent on read.
func (p *Post) validate() error {
	if p.ID == "" {
		return fmt.Errorf("post has no id")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("post %s has invalid status %q", p.ID, p.Status)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		return fmt.Errorf("post %s has missing timestamps", p.ID)
	}
	return nil
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	separatorRe  = regexp.MustCompile(`[\s_-]+`)
	edgeHyphenRe = regexp.MustCompile(`^-+|-+$`)
)

// Slugify derives a URL slug from a title: lowercased, non-word characters
// stripped, whitespace and underscores collapsed to single hyphens, leading
// and trailing hyphens trimmed.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = nonWordRe.ReplaceAllString(slug, "")
	slug = separatorRe.ReplaceAllString(slug, "-")
	return edgeHyphenRe.ReplaceAllString(slug, "")
}

const (
	wordsPerMinute = 200
	excerptRunes   = 160
)

// ComputeMetadata derives the metadata block from the post's content and SEO
// inputs. The derivation is deterministic: same inputs, same metadata.
func ComputeMetadata(p *Post) PostMetadata {
	words := countWords(p.Content)

	readingTime := (words + wordsPerMinute - 1) / wordsPerMinute
	if readingTime < 1 {
		readingTime = 1
	}

	keywords := p.SEOKeywords
	if keywords == nil {
		keywords = []string{}
	}

	return PostMetadata{
		WordCount:   words,
		ReadingTime: readingTime,
		SEOScore:    seoScore(p, words),
		Excerpt:     excerpt(p.Content),
		Keywords:    keywords,
	}
}

func countWords(blocks []ContentBlock) int {
	count := 0
	for _, block := range blocks {
		count += len(strings.Fields(block.Text))
	}
	return count
}

// excerpt takes the first paragraph block and truncates it to 160 characters,
// ellipsis-terminated.
func excerpt(blocks []ContentBlock) string {
	for _, block := range blocks {
		if block.Type != BlockParagraph {
			continue
		}
		runes := []rune(block.Text)
		if len(runes) <= excerptRunes {
			return block.Text
		}
		return string(runes[:excerptRunes]) + "..."
	}
	return ""
}

// seoScore grades the post 0-100 across five factors worth 20 points each:
// title length, description length, body length, image presence, keywords.
func seoScore(p *Post, words int) int {
	score := 0

	titleLen := len([]rune(p.Title))
	switch {
	case titleLen >= 30 && titleLen <= 60:
		score += 20
	case titleLen > 0:
		score += 10
	}

	descLen := len([]rune(p.SEODescription))
	switch {
	case descLen >= 120 && descLen <= 160:
		score += 20
	case descLen > 0:
		score += 10
	}

	switch {
	case words >= 300:
		score += 20
	case words > 0:
		score += 10
	}

	if p.FeaturedImage != nil || hasImageBlock(p.Content) {
		score += 20
	}

	keywordCount := len(p.SEOKeywords)
	switch {
	case keywordCount >= 1 && keywordCount <= 10:
		score += 20
	case keywordCount > 10:
		score += 10
	}

	return score
}

func hasImageBlock(blocks []ContentBlock) bool {
	for _, block := range blocks {
		if block.Type == BlockImage {
			return true
		}
	}
	return false
}
