package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestIdentity tests the Identity middleware
func TestIdentity(t *testing.T) {
	t.Run("parses user ID from header", func(t *testing.T) {
		want := uuid.New()

		router := gin.New()
		router.Use(Identity())
		router.GET("/test", func(c *gin.Context) {
			got, ok := GetUserID(c)
			if !ok {
				t.Error("Expected user ID to be present")
			}
			if got != want {
				t.Errorf("Expected user ID %s, got %s", want, got)
			}
			c.Status(200)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(UserIDHeader, want.String())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	})

	t.Run("missing header proceeds anonymously", func(t *testing.T) {
		router := gin.New()
		router.Use(Identity())
		router.GET("/test", func(c *gin.Context) {
			if _, ok := GetUserID(c); ok {
				t.Error("Expected no user ID without header")
			}
			c.Status(200)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("malformed header proceeds anonymously", func(t *testing.T) {
		router := gin.New()
		router.Use(Identity())
		router.GET("/test", func(c *gin.Context) {
			if _, ok := GetUserID(c); ok {
				t.Error("Expected no user ID for malformed header")
			}
			c.Status(200)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(UserIDHeader, "not-a-uuid")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})
}

func TestGetUserID_WrongType(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(UserIDKey, "plain string")

	if _, ok := GetUserID(c); ok {
		t.Error("Expected no user ID when context value has wrong type")
	}
}
