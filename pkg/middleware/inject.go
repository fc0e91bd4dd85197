package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tripzi-app/calling/pkg/constants"
	"github.com/tripzi-app/calling/pkg/metrics"
	"gorm.io/gorm"
)

// InjectDB makes the database handle available to every handler via the
// gin context.
func InjectDB(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(constants.DbField, db)
		c.Next()
	}
}

// MetricsMiddleware counts served requests by route template, so path
// parameters do not explode the label set.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}
