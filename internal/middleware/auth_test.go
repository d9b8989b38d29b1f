package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Auth(testSecret))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": GetActorID(c), "role": GetActorRole(c)})
	})
	r.POST("/approve", RequireRole(RoleApprover), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAuth(t *testing.T) {
	valid := Claims{
		ActorID: "alice",
		Role:    RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	subjectOnly := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", http.StatusUnauthorized, "Authorization header is required"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Invalid authorization header format"},
		{"bad signature", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized, "token has expired"},
		{"valid", "Bearer " + signToken(t, testSecret, valid), http.StatusOK, `"actor":"alice"`},
		{"subject fallback", "Bearer " + signToken(t, testSecret, subjectOnly), http.StatusOK, `"actor":"bob"`},
	}

	router := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := newRouter()

	for role, want := range map[string]int{
		RoleOperator: http.StatusForbidden,
		RoleApprover: http.StatusNoContent,
		RoleAdmin:    http.StatusNoContent,
	} {
		t.Run(role, func(t *testing.T) {
			token := signToken(t, testSecret, Claims{ActorID: "carol", Role: role})
			req := httptest.NewRequest(http.MethodPost, "/approve", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, want, w.Code)
		})
	}
}

func TestRequestID_PropagatesCallerValue(t *testing.T) {
	router := newRouter()
	token := signToken(t, testSecret, Claims{ActorID: "dave", Role: RoleOperator})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
