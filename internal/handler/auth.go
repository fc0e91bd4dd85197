package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/constants"
	"github.com/tripzi-app/calling/pkg/response"
)

// authRequired authenticates requests with the caller's API credentials.
// Headers take precedence; query parameters are accepted for clients that
// cannot set headers, such as websocket upgrades from browsers.
func (h *Handlers) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.authenticate(c)
		if !ok {
			response.Unauthorized(c, "Invalid credentials")
			return
		}
		c.Set(constants.UserField, user)
		c.Next()
	}
}

func (h *Handlers) authenticate(c *gin.Context) (*models.User, bool) {
	apiKey := c.GetHeader("X-API-Key")
	apiSecret := c.GetHeader("X-API-Secret")
	if apiKey == "" || apiSecret == "" {
		apiKey = c.Query("apiKey")
		apiSecret = c.Query("apiSecret")
	}
	if apiKey == "" || apiSecret == "" {
		return nil, false
	}

	user, err := models.GetUserByAPIKeyAndSecret(h.db, apiKey, apiSecret)
	if err != nil || user == nil {
		return nil, false
	}
	return user, true
}
