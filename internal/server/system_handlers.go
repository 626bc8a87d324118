package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/store"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse reports liveness and database reachability
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	Database  string    `json:"database"`
}

// @Summary Health check
// @Description 200 when the database answers, 503 otherwise
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "online",
		Timestamp: time.Now().UTC(),
		Service:   "sitebook-api",
		Version:   s.version,
		GoVersion: runtime.Version(),
		Database:  "ok",
	}
	status := http.StatusOK

	// Single attempt, no backoff
	_, err := store.ExecuteWith(ctx, s.acc, store.RetryPolicy{MaxAttempts: 1}, func(db *gorm.DB) (struct{}, error) {
		return struct{}{}, db.Exec("SELECT 1").Error
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Health check database ping failed")
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, resp)
}
