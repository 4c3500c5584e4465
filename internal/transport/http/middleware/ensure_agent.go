package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
)

// EnsureAgent runs after Auth. Agent rows are provisioned out of band (see
// cmd/seed), so a bearer subject with no matching row fails closed rather
// than being upserted on the fly.
func EnsureAgent(repo repository.AgentRepository, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetString("agentID")
		if _, err := repo.GetByID(c.Request.Context(), agentID); err != nil {
			if errors.Is(err, domain.ErrAgentNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
				return
			}
			logger.ErrorContext(c.Request.Context(), "ensure agent lookup", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.Next()
	}
}
