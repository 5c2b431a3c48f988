package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	InitAuthMiddleware(nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User-ID", r.Context().Value("userID").(string))
		w.Header().Set("X-Username", r.Context().Value("username").(string))
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token passes operator identity through", func(t *testing.T) {
		token := signTestToken(t, jwt.MapClaims{
			"user_id": "op-1",
			"sub":     "admin",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "op-1", w.Header().Get("X-User-ID"))
		assert.Equal(t, "admin", w.Header().Get("X-Username"))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/accounts", nil)
		w := httptest.NewRecorder()
		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := signTestToken(t, jwt.MapClaims{
			"user_id": "op-1",
			"sub":     "admin",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})

		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("blacklisted token rejected", func(t *testing.T) {
		token := signTestToken(t, jwt.MapClaims{
			"user_id": "op-1",
			"sub":     "admin",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		redisClient, redisMock := redismock.NewClientMock()
		InitAuthMiddleware(redisClient)
		defer InitAuthMiddleware(nil)

		redisMock.ExpectExists("blacklist:" + token).SetVal(1)

		r := httptest.NewRequest("GET", "/accounts", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		AuthMiddleware(next).ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	SecurityHeaders(next).ServeHTTP(w, r)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
