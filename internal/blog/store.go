// Package blog stores bilingual posts as markdown files with YAML front
// matter under <dir>/<lang>/<slug>.md.
package blog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/models"
)

const (
	fileExt        = ".md"
	frontMatterSep = "---"
	maxSlugLength  = 120
)

var errPostNotFound = apperr.NotFound("post not found")

// Post is one blog article in one language
type Post struct {
	Slug        string    `json:"slug" yaml:"-"`
	Lang        string    `json:"lang" yaml:"-"`
	Title       string    `json:"title" yaml:"title"`
	Summary     string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	Draft       bool      `json:"draft" yaml:"draft"`
	Body        string    `json:"body,omitempty" yaml:"-"`
}

// Store reads and writes posts on disk. Writes are serialised and atomic.
type Store struct {
	dir    string
	logger zerolog.Logger
	mu     sync.RWMutex
	now    func() time.Time
}

func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "blog_store").Logger(),
		now:    time.Now,
	}
}

// ValidSlug allows letters (including Persian), digits and single dashes
func ValidSlug(slug string) bool {
	if slug == "" || len(slug) > maxSlugLength {
		return false
	}
	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") || strings.Contains(slug, "--") {
		return false
	}
	for _, r := range slug {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			return false
		}
	}
	return true
}

func checkKey(lang, slug string) error {
	if !models.ValidLocale(lang) {
		return apperr.Validation("unsupported language %q", lang)
	}
	if !ValidSlug(slug) {
		return apperr.Validation("invalid slug %q", slug)
	}
	return nil
}

func (s *Store) path(lang, slug string) string {
	return filepath.Join(s.dir, lang, slug+fileExt)
}

// List returns posts in lang, newest first. Drafts are included only when asked.
func (s *Store) List(lang string, includeDrafts bool) ([]Post, error) {
	if !models.ValidLocale(lang) {
		return nil, apperr.Validation("unsupported language %q", lang)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, lang))
	if errors.Is(err, fs.ErrNotExist) {
		return []Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blog directory: %w", err)
	}

	posts := make([]Post, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		slug := strings.TrimSuffix(name, fileExt)
		if !ValidSlug(slug) {
			continue
		}

		post, err := s.read(lang, slug)
		if err != nil {
			s.logger.Warn().Err(err).Str("lang", lang).Str("slug", slug).Msg("Skipping unreadable post")
			continue
		}
		if post.Draft && !includeDrafts {
			continue
		}
		post.Body = ""
		posts = append(posts, *post)
	}

	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].PublishedAt.Equal(posts[j].PublishedAt) {
			return posts[i].Slug < posts[j].Slug
		}
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
	return posts, nil
}

// Get returns one post with its body
func (s *Store) Get(lang, slug string) (*Post, error) {
	if err := checkKey(lang, slug); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(lang, slug)
}

func (s *Store) read(lang, slug string) (*Post, error) {
	data, err := os.ReadFile(s.path(lang, slug))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read post: %w", err)
	}

	post, err := Parse(data)
	if err != nil {
		return nil, err
	}
	post.Lang = lang
	post.Slug = slug
	return post, nil
}

// Save writes a post. An existing post is only replaced when overwrite is set.
func (s *Store) Save(post Post, overwrite bool) (*Post, error) {
	if err := checkKey(post.Lang, post.Slug); err != nil {
		return nil, err
	}
	post.Title = strings.TrimSpace(post.Title)
	if post.Title == "" {
		return nil, apperr.Validation("title is required")
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = s.now().UTC().Truncate(time.Second)
	}

	content, err := Format(post)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(post.Lang, post.Slug)
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return nil, apperr.Conflict("post %s/%s already exists", post.Lang, post.Slug)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blog directory: %w", err)
	}

	// Write to temporary file first (atomic write)
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temporary post: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move post to final location: %w", err)
	}

	s.logger.Info().Str("lang", post.Lang).Str("slug", post.Slug).Bool("draft", post.Draft).Msg("Post saved")
	return &post, nil
}

func (s *Store) Delete(lang, slug string) error {
	if err := checkKey(lang, slug); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(lang, slug))
	if errors.Is(err, fs.ErrNotExist) {
		return errPostNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	s.logger.Info().Str("lang", lang).Str("slug", slug).Msg("Post deleted")
	return nil
}

// Parse splits a markdown document into front matter and body
func Parse(data []byte) (*Post, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var post Post
	if !strings.HasPrefix(text, frontMatterSep+"\n") {
		post.Body = text
		return &post, nil
	}

	rest := text[len(frontMatterSep)+1:]
	end := strings.Index(rest, "\n"+frontMatterSep)
	if end < 0 {
		return nil, apperr.Validation("unterminated front matter")
	}
	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len(frontMatterSep)+1:], "\n")

	if err := yaml.Unmarshal([]byte(header), &post); err != nil {
		return nil, apperr.Validation("invalid front matter").Wrap(err)
	}
	post.Body = body
	return &post, nil
}

// Format renders a post as front matter followed by the markdown body
func Format(post Post) ([]byte, error) {
	header, err := yaml.Marshal(&post)
	if err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterSep + "\n")
	buf.Write(header)
	buf.WriteString(frontMatterSep + "\n")
	buf.WriteString(post.Body)
	if !strings.HasSuffix(post.Body, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}
