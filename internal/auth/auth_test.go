package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestParseAndValidate(t *testing.T) {
	tok, err := NewAccessClaims("u-1", RoleStudent, time.Hour).SignedString(secret)
	require.NoError(t, err)

	claims, err := ParseAndValidate(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID())
	assert.Equal(t, RoleStudent, claims.Role)

	_, err = ParseAndValidate(tok, []byte("other"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired, err := NewAccessClaims("u-1", RoleStudent, -time.Minute).SignedString(secret)
	require.NoError(t, err)
	_, err = ParseAndValidate(expired, secret)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(secret), func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.GET("/internal", Middleware(secret), RequireRole(RoleService), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	student, err := NewAccessClaims("u-7", RoleStudent, time.Hour).SignedString(secret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		target string
		header string
		code   int
		body   string
	}{
		{name: "no token", target: "/me", code: http.StatusUnauthorized},
		{name: "header", target: "/me", header: "Bearer " + student, code: http.StatusOK, body: "u-7"},
		{name: "query", target: "/me?access_token=" + student, code: http.StatusOK, body: "u-7"},
		{name: "garbage", target: "/me", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "wrong role", target: "/internal", header: "Bearer " + student, code: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}
