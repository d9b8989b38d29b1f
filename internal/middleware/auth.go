package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the route guards
const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
	RoleOperator = "operator"
	RoleScanner  = "scanner"
	RoleAuditor  = "auditor"
)

const (
	actorIDKey   = "actorID"
	actorRoleKey = "actorRole"
)

// Claims represents the JWT claims structure. The identity provider issues
// the token; this service only verifies it.
type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Auth returns a middleware that validates JWT tokens
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
			})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format",
			})
			return
		}

		claims, err := validateToken(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}

		actorID := claims.ActorID
		if actorID == "" {
			actorID = claims.Subject
		}
		c.Set(actorIDKey, actorID)
		c.Set(actorRoleKey, claims.Role)
		c.Set("claims", claims)

		c.Next()
	}
}

// validateToken parses and validates a JWT token string
func validateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("token has expired")
		}
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ActorID == "" && claims.Subject == "" {
		return nil, errors.New("token carries no actor")
	}

	return claims, nil
}

// GetActorID extracts the authenticated actor from the Gin context
func GetActorID(c *gin.Context) string {
	return c.GetString(actorIDKey)
}

// GetActorRole extracts the actor's role from the Gin context
func GetActorRole(c *gin.Context) string {
	return c.GetString(actorRoleKey)
}

// RequireRole returns a middleware that requires one of the given roles.
// Admins pass every guard.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetActorRole(c)
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "role " + role + " may not perform this operation",
		})
	}
}
