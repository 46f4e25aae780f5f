package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the auth boundary in front of this service
const (
	HeaderOrganisationID = "X-Organisation-ID"
	HeaderUserID         = "X-User-ID"
)

const (
	organisationKey = "identity.organisation"
	userKey         = "identity.user"
)

// Identity copies the acting identity from the request headers into the context
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if org := c.GetHeader(HeaderOrganisationID); org != "" {
			c.Set(organisationKey, org)
		}
		if user := c.GetHeader(HeaderUserID); user != "" {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

// RequireOrganisation rejects requests without an acting organisation
func RequireOrganisation() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Organisation(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": HeaderOrganisationID + " header is required",
				"code":  "unauthenticated",
			})
			return
		}
		c.Next()
	}
}

// Organisation returns the acting organisation, or "" when none was sent
func Organisation(c *gin.Context) string {
	return c.GetString(organisationKey)
}

// User returns the acting user, or "" when none was sent
func User(c *gin.Context) string {
	return c.GetString(userKey)
}
