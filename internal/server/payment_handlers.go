package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitebook-dev/sitebook/internal/payments"
)

// CreatePaymentRequest records a pending payment for a user
type CreatePaymentRequest struct {
	UserID      string `json:"user_id" binding:"required,max=26"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3,alpha"`
	Provider    string `json:"provider" binding:"max=64"`
	Reference   string `json:"reference" binding:"omitempty,max=64,alphanumdash"`
	Description string `json:"description" binding:"max=500"`
}

// UpdatePaymentStatusRequest moves a payment along its lifecycle
type UpdatePaymentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending paid failed refunded"`
}

// @Summary List payments
// @Description Users see their own payments; admins see all or filter with ?user_id
// @Tags payments
// @Produce json
// @Success 200 {array} models.Payment
// @Router /api/payments [get]
func (s *Server) listPayments(c *gin.Context) {
	userID, ok := s.scopeUserID(c)
	if !ok {
		return
	}

	list, err := s.payments.List(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get payment
// @Tags payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Router /api/payments/{id} [get]
func (s *Server) getPayment(c *gin.Context) {
	payment, err := s.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !s.authorizeOwner(c, payment.UserID) {
		return
	}
	c.JSON(http.StatusOK, payment)
}

// @Summary Record payment
// @Tags payments
// @Accept json
// @Produce json
// @Success 201 {object} models.Payment
// @Router /api/payments [post]
func (s *Server) createPayment(c *gin.Context) {
	var req CreatePaymentRequest
	if !s.bindJSON(c, &req) {
		return
	}

	payment, err := s.payments.Create(c.Request.Context(), payments.CreateParams{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    req.Provider,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// @Summary Update payment status
// @Description pending -> paid|failed, paid -> refunded
// @Tags payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 409 {object} ErrorResponse
// @Router /api/payments/{id}/status [patch]
func (s *Server) updatePaymentStatus(c *gin.Context) {
	var req UpdatePaymentStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}

	payment, err := s.payments.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
