package blog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebook-dev/sitebook/internal/apperr"
)

func TestValidSlug(t *testing.T) {
	for _, slug := range []string{"hello-world", "post1", "راهنمای-رزرو"} {
		assert.True(t, ValidSlug(slug), slug)
	}
	for _, slug := range []string{"", "-lead", "trail-", "double--dash", "../etc", "a/b", "with space", "dot.md"} {
		assert.False(t, ValidSlug(slug), slug)
	}
}

func TestParseFormat(t *testing.T) {
	published := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	post := Post{Title: "Hello", Summary: "Intro", Tags: []string{"news"}, PublishedAt: published, Body: "# Hello\n\nBody text."}

	data, err := Format(post)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Hello", parsed.Title)
	assert.Equal(t, []string{"news"}, parsed.Tags)
	assert.True(t, published.Equal(parsed.PublishedAt))
	assert.Equal(t, "# Hello\n\nBody text.\n", parsed.Body)

	plain, err := Parse([]byte("just markdown"))
	require.NoError(t, err)
	assert.Equal(t, "just markdown", plain.Body)

	_, err = Parse([]byte("---\ntitle: x\nno end"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = Parse([]byte("---\ntitle: [unclosed\n---\nbody"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, zerolog.Nop())

	posts, err := s.List("en", false)
	require.NoError(t, err)
	assert.Empty(t, posts, "missing directory lists nothing")

	older := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Save(Post{Lang: "en", Slug: "first", Title: "First", PublishedAt: older, Body: "one"}, false)
	require.NoError(t, err)
	_, err = s.Save(Post{Lang: "en", Slug: "second", Title: "Second", Body: "two"}, false)
	require.NoError(t, err)
	_, err = s.Save(Post{Lang: "en", Slug: "wip", Title: "Draft", Draft: true}, false)
	require.NoError(t, err)
	_, err = s.Save(Post{Lang: "fa", Slug: "اولین", Title: "اولین پست", Body: "سلام"}, false)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "en", "first.md"))

	posts, err = s.List("en", false)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "second", posts[0].Slug, "newest first")
	assert.Empty(t, posts[0].Body, "listings omit bodies")

	withDrafts, err := s.List("en", true)
	require.NoError(t, err)
	assert.Len(t, withDrafts, 3)

	fa, err := s.Get("fa", "اولین")
	require.NoError(t, err)
	assert.Equal(t, "سلام\n", fa.Body)

	_, err = s.Save(Post{Lang: "en", Slug: "first", Title: "Again"}, false)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	replaced, err := s.Save(Post{Lang: "en", Slug: "first", Title: "Again"}, true)
	require.NoError(t, err)
	assert.Equal(t, "Again", replaced.Title)

	_, err = s.Save(Post{Lang: "de", Slug: "x", Title: "x"}, false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.Save(Post{Lang: "en", Slug: "no-title"}, false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.Get("en", "../secrets")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, s.Delete("en", "first"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(s.Delete("en", "first")))
	_, err = s.Get("en", "first")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStore_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "broken.md"), []byte("---\ntitle: [\n---\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en", "notes.txt"), []byte("ignored"), 0644))

	s := NewStore(dir, zerolog.Nop())
	posts, err := s.List("en", true)
	require.NoError(t, err)
	assert.Empty(t, posts)
}
