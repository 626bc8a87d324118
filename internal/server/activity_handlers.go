package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/sitebook-dev/sitebook/internal/activity"
	"github.com/sitebook-dev/sitebook/internal/models"
)

// MessageRequest is one conversation turn
type MessageRequest struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content" binding:"required,max=20000"`
}

func (m MessageRequest) message() models.Message {
	return models.Message{Role: m.Role, Content: m.Content}
}

// CreateConversationRequest starts a conversation
type CreateConversationRequest struct {
	UserID   string           `json:"user_id" binding:"omitempty,max=26"`
	Title    string           `json:"title" binding:"max=200"`
	Messages []MessageRequest `json:"messages" binding:"omitempty,max=500,dive"`
}

// RecordUsageRequest meters feature use for a user
type RecordUsageRequest struct {
	UserID     string     `json:"user_id" binding:"required,max=26"`
	Feature    string     `json:"feature" binding:"required,max=64,alphanumdash"`
	Quantity   int64      `json:"quantity" binding:"required,gt=0"`
	Unit       string     `json:"unit" binding:"omitempty,max=32,alphanumdash"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// DashboardResponse is everything the signed-in user's dashboard shows
type DashboardResponse struct {
	User          *UserDetail           `json:"user"`
	Bookings      []models.Booking      `json:"bookings"`
	Payments      []models.Payment      `json:"payments"`
	Conversations []models.Conversation `json:"conversations"`
	Usage         []activity.UsageTotal `json:"usage"`
}

// @Summary List conversations
// @Tags conversations
// @Produce json
// @Success 200 {array} models.Conversation
// @Router /api/conversations [get]
func (s *Server) listConversations(c *gin.Context) {
	userID, ok := s.scopeUserID(c)
	if !ok {
		return
	}

	list, err := s.activity.ListConversations(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Create conversation
// @Description Creates a conversation for the caller; admins may set user_id
// @Tags conversations
// @Accept json
// @Produce json
// @Success 201 {object} models.Conversation
// @Router /api/conversations [post]
func (s *Server) createConversation(c *gin.Context) {
	var req CreateConversationRequest
	if !s.bindJSON(c, &req) {
		return
	}

	ownerID := GetPrincipal(c).ID
	if req.UserID != "" {
		if !s.authorizeOwner(c, req.UserID) {
			return
		}
		ownerID = req.UserID
	}

	messages := make([]models.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = m.message()
	}

	conv, err := s.activity.CreateConversation(c.Request.Context(), ownerID, req.Title, messages)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// loadOwnedConversation fetches a conversation and applies the self-or-admin gate
func (s *Server) loadOwnedConversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := s.activity.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if !s.authorizeOwner(c, conv.UserID) {
		return nil, false
	}
	return conv, true
}

// @Summary Get conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} models.Conversation
// @Router /api/conversations/{id} [get]
func (s *Server) getConversation(c *gin.Context) {
	conv, ok := s.loadOwnedConversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conv)
}

// @Summary Delete conversation
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Success 204
// @Router /api/conversations/{id} [delete]
func (s *Server) deleteConversation(c *gin.Context) {
	conv, ok := s.loadOwnedConversation(c)
	if !ok {
		return
	}
	if err := s.activity.DeleteConversation(c.Request.Context(), conv.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Append message
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} models.Conversation
// @Router /api/conversations/{id}/messages [post]
func (s *Server) appendMessage(c *gin.Context) {
	var req MessageRequest
	if !s.bindJSON(c, &req) {
		return
	}
	conv, ok := s.loadOwnedConversation(c)
	if !ok {
		return
	}

	updated, err := s.activity.AppendMessage(c.Request.Context(), conv.ID, req.message())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// usageFilter reads the caller's scope and the optional from/to bounds
func (s *Server) usageFilter(c *gin.Context) (activity.UsageFilter, bool) {
	userID, ok := s.scopeUserID(c)
	if !ok {
		return activity.UsageFilter{}, false
	}
	filter := activity.UsageFilter{UserID: userID}

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		s.respondError(c, err)
		return filter, false
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		s.respondError(c, err)
		return filter, false
	}
	if from != nil {
		filter.From = *from
	}
	if to != nil {
		filter.To = *to
	}
	return filter, true
}

// @Summary List usage records
// @Tags usage
// @Produce json
// @Success 200 {array} models.UsageRecord
// @Router /api/usage [get]
func (s *Server) listUsage(c *gin.Context) {
	filter, ok := s.usageFilter(c)
	if !ok {
		return
	}

	records, err := s.activity.ListUsage(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// @Summary Usage totals per feature
// @Tags usage
// @Produce json
// @Success 200 {array} activity.UsageTotal
// @Router /api/usage/summary [get]
func (s *Server) usageSummary(c *gin.Context) {
	filter, ok := s.usageFilter(c)
	if !ok {
		return
	}

	totals, err := s.activity.Summary(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

// @Summary Record usage
// @Tags usage
// @Accept json
// @Produce json
// @Success 201 {object} models.UsageRecord
// @Router /api/usage [post]
func (s *Server) recordUsage(c *gin.Context) {
	var req RecordUsageRequest
	if !s.bindJSON(c, &req) {
		return
	}

	params := activity.UsageParams{
		UserID:   req.UserID,
		Feature:  req.Feature,
		Quantity: req.Quantity,
		Unit:     req.Unit,
	}
	if req.RecordedAt != nil {
		params.RecordedAt = *req.RecordedAt
	}

	record, err := s.activity.RecordUsage(c.Request.Context(), params)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// @Summary Dashboard
// @Description The caller's bookings, payments, conversations and usage totals
// @Tags dashboard
// @Produce json
// @Success 200 {object} DashboardResponse
// @Router /api/dashboard [get]
func (s *Server) dashboard(c *gin.Context) {
	userID := GetPrincipal(c).ID
	var resp DashboardResponse

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		user, err := s.users.Get(ctx, userID)
		if err == nil {
			resp.User = userDetail(user)
		}
		return err
	})
	g.Go(func() error {
		var err error
		resp.Bookings, err = s.appointments.ListBookings(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Payments, err = s.payments.List(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Conversations, err = s.activity.ListConversations(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Usage, err = s.activity.Summary(ctx, activity.UsageFilter{UserID: userID})
		return err
	})
	if err := g.Wait(); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
