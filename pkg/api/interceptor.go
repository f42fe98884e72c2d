package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// readOnlyGuard refuses mutating requests. Deployments that expose the
// API to downstream consumers run with it enabled, so enrollment stays
// an operator action on the local listener. The guard fails closed:
// anything that is not an explicit read method is refused.
func readOnlyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "write operations are disabled on this listener",
			})
		}
	}
}
