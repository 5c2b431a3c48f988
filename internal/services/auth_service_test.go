package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil)

	t.Run("successful registration", func(t *testing.T) {
		req := RegisterRequest{
			Username: "admin",
			Email:    "ops@example.com",
			Password: "password1234",
		}

		mock.ExpectQuery("INSERT INTO admin_users").
			WithArgs(sqlmock.AnyArg(), req.Username, req.Email, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, req.Username, response.User.Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short password rejected", func(t *testing.T) {
		body := []byte(`{"username":"admin","email":"ops@example.com","password":"short"}`)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil)

	adminCols := []string{"id", "username", "email", "password", "is_active", "last_login", "created_at"}
	adminID := "0a4db8cf-6de0-4c66-8e4e-9801a45c7b77"

	t.Run("successful login updates last_login", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password1234")

		mock.ExpectQuery("SELECT id, username, email, password, is_active, last_login, created_at").
			WithArgs("admin").
			WillReturnRows(sqlmock.NewRows(adminCols).
				AddRow(adminID, "admin", "ops@example.com", hashedPassword, true, nil, time.Now()))
		mock.ExpectExec("UPDATE admin_users SET last_login").
			WithArgs(sqlmock.AnyArg(), adminID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := []byte(`{"username":"admin","password":"password1234"}`)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.NotNil(t, response.User.LastLogin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password1234")

		mock.ExpectQuery("SELECT id, username, email, password, is_active, last_login, created_at").
			WithArgs("admin").
			WillReturnRows(sqlmock.NewRows(adminCols).
				AddRow(adminID, "admin", "ops@example.com", hashedPassword, true, nil, time.Now()))

		body := []byte(`{"username":"admin","password":"wrong-password"}`)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive operator rejected", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password1234")

		mock.ExpectQuery("SELECT id, username, email, password, is_active, last_login, created_at").
			WithArgs("admin").
			WillReturnRows(sqlmock.NewRows(adminCols).
				AddRow(adminID, "admin", "ops@example.com", hashedPassword, false, nil, time.Now()))

		body := []byte(`{"username":"admin","password":"password1234"}`)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown operator", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, username, email, password, is_active, last_login, created_at").
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)

		body := []byte(`{"username":"nobody","password":"password1234"}`)
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuthService_Logout(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()

	t.Run("blacklists the presented token", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewAuthService(db, redisClient)

		redisMock.ExpectSet("blacklist:some-token", "1", 24*time.Hour).SetVal("OK")

		r := httptest.NewRequest("POST", "/auth/logout", nil)
		r.Header.Set("Authorization", "Bearer some-token")
		w := httptest.NewRecorder()

		service.Logout(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing token still succeeds", func(t *testing.T) {
		service := NewAuthService(db, nil)

		r := httptest.NewRequest("POST", "/auth/logout", nil)
		w := httptest.NewRecorder()

		service.Logout(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	hash, err := hashPassword("password1234")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.True(t, verifyPassword("password1234", hash))
	assert.False(t, verifyPassword("other-password", hash))
	assert.False(t, verifyPassword("password1234", "malformed"))
}
