package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/blog"
	"github.com/sitebook-dev/sitebook/internal/models"
)

// SavePostRequest creates or replaces a post
type SavePostRequest struct {
	Lang        string     `json:"lang" binding:"required,locale"`
	Slug        string     `json:"slug" binding:"required,slug"`
	Title       string     `json:"title" binding:"required,max=200"`
	Summary     string     `json:"summary" binding:"max=500"`
	Author      string     `json:"author" binding:"max=120"`
	Tags        []string   `json:"tags" binding:"omitempty,max=20,dive,max=40"`
	PublishedAt *time.Time `json:"published_at"`
	Draft       bool       `json:"draft"`
	Body        string     `json:"body"`
}

// @Summary List posts
// @Description Published posts in one language; admins may add ?drafts=true
// @Tags blog
// @Produce json
// @Param lang query string false "en or fa" default(en)
// @Success 200 {array} blog.Post
// @Router /api/blogs [get]
func (s *Server) listPosts(c *gin.Context) {
	lang := c.DefaultQuery("lang", models.LocaleEnglish)
	includeDrafts := GetPrincipal(c).IsAdmin() && c.Query("drafts") == "true"

	posts, err := s.blog.List(lang, includeDrafts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

// @Summary Get post
// @Tags blog
// @Produce json
// @Param lang path string true "en or fa"
// @Param slug path string true "Post slug"
// @Success 200 {object} blog.Post
// @Router /api/blogs/{lang}/{slug} [get]
func (s *Server) getPost(c *gin.Context) {
	post, err := s.blog.Get(c.Param("lang"), c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if post.Draft && !GetPrincipal(c).IsAdmin() {
		s.respondError(c, apperr.NotFound("post not found"))
		return
	}
	c.JSON(http.StatusOK, post)
}

// @Summary Save post
// @Description Creates a post; pass ?overwrite=true to replace an existing one
// @Tags blog
// @Accept json
// @Produce json
// @Success 201 {object} blog.Post
// @Failure 409 {object} ErrorResponse
// @Router /api/blogs [post]
func (s *Server) savePost(c *gin.Context) {
	var req SavePostRequest
	if !s.bindJSON(c, &req) {
		return
	}

	post := blog.Post{
		Lang:    req.Lang,
		Slug:    req.Slug,
		Title:   req.Title,
		Summary: req.Summary,
		Author:  req.Author,
		Tags:    req.Tags,
		Draft:   req.Draft,
		Body:    req.Body,
	}
	if req.PublishedAt != nil {
		post.PublishedAt = req.PublishedAt.UTC()
	}

	saved, err := s.blog.Save(post, c.Query("overwrite") == "true")
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// @Summary Delete post
// @Tags blog
// @Param lang path string true "en or fa"
// @Param slug path string true "Post slug"
// @Success 204
// @Router /api/blogs/{lang}/{slug} [delete]
func (s *Server) deletePost(c *gin.Context) {
	if err := s.blog.Delete(c.Param("lang"), c.Param("slug")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
