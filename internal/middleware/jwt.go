package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qbox-live/qbox/internal/auth"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/pkg/response"
)

const (
	// ContextRoomID is the key for the token's room id in gin context.
	ContextRoomID = "room_id"
	// ContextUserRole is the key for the token's role in gin context.
	ContextUserRole = "user_role"
	// ContextLecturerName is the key for the instructor's display name.
	ContextLecturerName = "lecturer_name"
)

// JWT returns a middleware that requires a valid bearer token and sets its
// claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if !setClaims(c, jwtService, header) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// OptionalJWT sets token claims when a bearer token is present. A present but
// invalid token is still rejected.
func OptionalJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if !setClaims(c, jwtService, header) {
			c.Abort()
			return
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, jwtService *auth.JWTService, header string) bool {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		response.Unauthorized(c, "invalid authorization header")
		return false
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return false
	}
	c.Set(ContextRoomID, claims.RoomID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextLecturerName, claims.LecturerName)
	return true
}

// RoomOwner reports whether the request carries an instructor token for roomID.
func RoomOwner(c *gin.Context, roomID string) bool {
	return c.GetString(ContextUserRole) == string(models.RoleInstructor) && c.GetString(ContextRoomID) == roomID
}
