package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/brandgen/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// GetBalance handles GET /api/v1/users/:user_id/balance
func (h *UserHandler) GetBalance(c *gin.Context) {
	userID := c.Param("user_id")

	user, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load balance", slog.String("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, dto.BalanceDTO{
		UserID:                  userID,
		Balance:                 user.Balance,
		FreeGenerationAvailable: !user.FreeUsed,
		ReferredBy:              user.Referrer(),
		Converted:               user.Converted,
	})
}

// ListGenerations handles GET /api/v1/users/:user_id/generations
func (h *UserHandler) ListGenerations(c *gin.Context) {
	userID := c.Param("user_id")

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}

	recs, err := h.records.ListByUser(c.Request.Context(), userID, query.Limit)
	if err != nil {
		h.logger.Error("Failed to list generations", slog.String("user_id", userID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list generations"})
		return
	}

	resp := dto.ListGenerationsResponse{Generations: make([]dto.GenerationDTO, len(recs))}
	for i, r := range recs {
		resp.Generations[i] = dto.GenerationDTO{
			ID:        r.ID,
			JobID:     r.JobID,
			Type:      string(r.Type),
			Cost:      r.Cost,
			URLs:      r.URLs,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, resp)
}
