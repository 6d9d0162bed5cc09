package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller's user id. An upstream gateway is
// trusted to have authenticated the caller and set it.
const UserIDHeader = "X-User-ID"

// RequireUser is a middleware that ensures the request identifies a user
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		userID, err := strconv.ParseUint(raw, 10, 64)
		if raw == "" || err != nil || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + UserIDHeader + " header"})
			return
		}

		// Set context value for downstream handlers
		c.Set("user_id", uint(userID))
		c.Next()
	}
}

func currentUser(c *gin.Context) uint {
	return c.GetUint("user_id")
}

// CORS allows browser clients on the given origins to call the API.
func CORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", UserIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
