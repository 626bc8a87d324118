package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitebook-dev/sitebook/internal/apperr"
	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/users"
)

// UpdateUserRequest changes only the fields that are present
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=120"`
	Phone    *string `json:"phone" binding:"omitempty,max=32"`
	Locale   *string `json:"locale" binding:"omitempty,locale"`
	Password *string `json:"password" binding:"omitempty,min=8"`
	Role     *string `json:"role" binding:"omitempty,oneof=user admin"`
}

// @Summary List users
// @Description List all users (admin only)
// @Tags users
// @Produce json
// @Success 200 {array} UserDetail
// @Router /api/users [get]
func (s *Server) listUsers(c *gin.Context) {
	list, err := s.users.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	userDetails := make([]*UserDetail, len(list))
	for i := range list {
		userDetails[i] = userDetail(&list[i])
	}
	c.JSON(http.StatusOK, userDetails)
}

// @Summary Get user
// @Description Self or admin
// @Tags users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} UserDetail
// @Router /api/users/{id} [get]
func (s *Server) getUser(c *gin.Context) {
	userID := c.Param("id")
	if !s.authorizeOwner(c, userID) {
		return
	}

	user, err := s.users.Get(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userDetail(user))
}

// @Summary Update user
// @Description Self or admin; only admins change roles, and never their own
// @Tags users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} UserDetail
// @Router /api/users/{id} [patch]
func (s *Server) updateUser(c *gin.Context) {
	userID := c.Param("id")
	if !s.authorizeOwner(c, userID) {
		return
	}

	var req UpdateUserRequest
	if !s.bindJSON(c, &req) {
		return
	}

	params := users.UpdateParams{
		Name:     req.Name,
		Phone:    req.Phone,
		Locale:   req.Locale,
		Password: req.Password,
	}
	if req.Role != nil {
		p := GetPrincipal(c)
		if err := auth.RequireRole(p, auth.RoleAdmin); err != nil {
			s.respondError(c, err)
			return
		}
		if p.ID == userID {
			s.respondError(c, apperr.Validation("Cannot change your own role"))
			return
		}
		role := auth.Role(*req.Role)
		params.Role = &role
	}

	user, err := s.users.Update(c.Request.Context(), userID, params)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userDetail(user))
}

// @Summary Delete user
// @Description Delete a user (admin only, cannot delete self)
// @Tags users
// @Param id path string true "User ID"
// @Success 204
// @Router /api/users/{id} [delete]
func (s *Server) deleteUser(c *gin.Context) {
	userID := c.Param("id")
	p := GetPrincipal(c)

	// Prevent deleting self
	if userID == p.ID {
		s.respondError(c, apperr.Validation("Cannot delete yourself"))
		return
	}

	if err := s.users.Delete(c.Request.Context(), userID); err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("deleted_by", p.ID).
		Msg("User deleted")

	c.Status(http.StatusNoContent)
}
