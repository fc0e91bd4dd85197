package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/tripzi-app/calling/pkg/response"
	"gorm.io/gorm"
)

// handleGetProfile resolves display metadata for an incoming-call prompt.
// Lookups go through the shared cache, a burst of calls from one user
// costs a single database read.
func (h *Handlers) handleGetProfile(c *gin.Context) {
	profile, err := h.resolver.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "Profile not found")
			return
		}
		response.Fail(c, "Failed to resolve profile", nil)
		return
	}
	response.Success(c, profile)
}
