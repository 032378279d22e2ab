package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(token string) *gin.Engine {
		r := gin.New()
		r.Use(AdminAuth(token))
		r.GET("/x", func(c *gin.Context) {
			if !IsAdmin(c) {
				t.Fatalf("admin flag not set")
			}
			c.Status(http.StatusNoContent)
		})
		return r
	}

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"valid", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"scheme is case-insensitive", "s3cret", "bearer s3cret", http.StatusNoContent},
		{"wrong token", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"basic scheme", "s3cret", "Basic s3cret", http.StatusUnauthorized},
		{"empty configured token", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			newRouter(tc.token).ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d; want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("missing WWW-Authenticate")
			}
		})
	}
}
