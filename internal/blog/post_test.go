package blog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Hello World", "hello-world"},
		{"punctuation stripped", "Hello, World!", "hello-world"},
		{"collapses separators", "a  b__c--d", "a-b-c-d"},
		{"trims edge hyphens", "--surrounded--", "surrounded"},
		{"already clean", "clean-slug", "clean-slug"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
		{"mixed case", "CamelCase Title", "camelcase-title"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Slugify(tc.title))
		})
	}
}

func paragraph(text string) ContentBlock {
	return ContentBlock{Type: BlockParagraph, Text: text}
}

func TestComputeMetadata_WordCountAndReadingTime(t *testing.T) {
	post := &Post{
		Title: "Reading time",
		Content: []ContentBlock{
			{Type: BlockHeading, Text: "two words"},
			paragraph(strings.Repeat("word ", 398)),
		},
	}

	md := ComputeMetadata(post)
	assert.Equal(t, 400, md.WordCount)
	assert.Equal(t, 2, md.ReadingTime)
}

func TestComputeMetadata_ReadingTimeRoundsUpAndFloorsAtOne(t *testing.T) {
	empty := ComputeMetadata(&Post{})
	assert.Equal(t, 0, empty.WordCount)
	assert.Equal(t, 1, empty.ReadingTime)

	overOnePage := ComputeMetadata(&Post{
		Content: []ContentBlock{paragraph(strings.Repeat("w ", 201))},
	})
	assert.Equal(t, 2, overOnePage.ReadingTime)
}

func TestComputeMetadata_ExcerptTruncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	md := ComputeMetadata(&Post{Content: []ContentBlock{paragraph(long)}})

	assert.Len(t, []rune(md.Excerpt), 163)
	assert.True(t, strings.HasSuffix(md.Excerpt, "..."))
	assert.Equal(t, strings.Repeat("a", 160), strings.TrimSuffix(md.Excerpt, "..."))
}

func TestComputeMetadata_ExcerptShortParagraphUnchanged(t *testing.T) {
	md := ComputeMetadata(&Post{Content: []ContentBlock{
		{Type: BlockHeading, Text: "skipped"},
		paragraph("short intro"),
	}})
	assert.Equal(t, "short intro", md.Excerpt)
}

func TestComputeMetadata_ExcerptEmptyWithoutParagraphs(t *testing.T) {
	md := ComputeMetadata(&Post{Content: []ContentBlock{
		{Type: BlockHeading, Text: "heading only"},
	}})
	assert.Equal(t, "", md.Excerpt)
}

func TestSEOScore(t *testing.T) {
	tests := []struct {
		name string
		post Post
		want int
	}{
		{
			name: "empty post scores zero",
			post: Post{},
			want: 0,
		},
		{
			name: "all factors optimal",
			post: Post{
				Title:          strings.Repeat("t", 45),
				SEODescription: strings.Repeat("d", 140),
				SEOKeywords:    []string{"go", "blog"},
				FeaturedImage:  &ImageAsset{URL: "/uploads/x.jpg"},
				Content:        []ContentBlock{paragraph(strings.Repeat("word ", 300))},
			},
			want: 100,
		},
		{
			name: "suboptimal lengths score half",
			post: Post{
				Title:          "short",
				SEODescription: "brief",
				Content:        []ContentBlock{paragraph("a few words only")},
			},
			want: 30,
		},
		{
			name: "image block counts like featured image",
			post: Post{
				Content: []ContentBlock{{Type: BlockImage, URL: "/uploads/x.jpg"}},
			},
			want: 20,
		},
		{
			name: "keyword stuffing penalized",
			post: Post{
				SEOKeywords: make([]string, 11),
			},
			want: 10,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			md := ComputeMetadata(&tc.post)
			assert.Equal(t, tc.want, md.SEOScore)
		})
	}
}

func TestComputeMetadata_Deterministic(t *testing.T) {
	post := &Post{
		Title:       "Determinism",
		SEOKeywords: []string{"k1", "k2"},
		Content:     []ContentBlock{paragraph("same input, same output")},
	}

	first := ComputeMetadata(post)
	second := ComputeMetadata(post)
	assert.Equal(t, first, second)
}
