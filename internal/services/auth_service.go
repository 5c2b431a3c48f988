package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	apperrors "github.com/nexilabs/agent-credit-backend/internal/errors"
	"github.com/nexilabs/agent-credit-backend/internal/models"
)

// AuthService manages the admin operators who use the dashboard. Agents
// themselves never authenticate against this API.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Username string `json:"username" validate:"required" example:"admin"`               // Operator username
	Password string `json:"password" validate:"required,min=8" example:"password1234"` // Operator password
}

// RegisterRequest represents the operator registration payload
// @Description Registration request structure
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64" example:"admin"`  // Operator username
	Email    string `json:"email" validate:"required,email" example:"ops@example.com"`  // Operator email
	Password string `json:"password" validate:"required,min=8" example:"password1234"` // Operator password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string           `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.AdminUser `json:"user"`                                                    // Operator information
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Register creates a new admin operator
// @Summary Register a new operator
// @Description Register a dashboard operator with username, email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse "Registration successful"
// @Failure 400 {object} services.ErrorResponse "Invalid request"
// @Failure 409 {string} string "Username or email already exists"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Username, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	user := models.AdminUser{
		ID:       uuid.NewString(),
		Username: req.Username,
		Email:    strings.ToLower(req.Email),
		IsActive: true,
	}
	err = s.db.QueryRowContext(r.Context(), `
		INSERT INTO admin_users (id, username, email, password, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING created_at`,
		user.ID, user.Username, user.Email, hashedPassword).Scan(&user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			log.Printf("[AUTH] Registration conflict for %s", req.Username)
			SendErrorResponse(w, "Username or email already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] Operator creation failed for %s: %v", req.Username, err)
		SendErrorResponse(w, "Failed to create operator", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Username)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", user.Username, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Operator registered: %s (%s)", user.Username, user.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Login authenticates an operator
// @Summary Login operator
// @Description Authenticate an operator with username and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} services.ErrorResponse "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.AdminUser
	var hashedPassword string
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, username, email, password, is_active, last_login, created_at
		FROM admin_users WHERE username = $1`, req.Username).
		Scan(&user.ID, &user.Username, &user.Email, &hashedPassword,
			&user.IsActive, &user.LastLogin, &user.CreatedAt)
	if err != nil {
		log.Printf("[AUTH] Operator not found: %s", req.Username)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !user.IsActive {
		log.Printf("[AUTH] Login rejected for inactive operator: %s", req.Username)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for operator: %s", req.Username)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(r.Context(),
		`UPDATE admin_users SET last_login = $1 WHERE id = $2`, now, user.ID); err != nil {
		log.Printf("[AUTH] Failed to update last_login for %s: %v", user.Username, err)
	} else {
		user.LastLogin = &now
	}

	token, err := generateJWT(user.ID, user.Username)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for %s: %v", user.Username, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for operator %s", user.Username)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout blacklists the presented token
// @Summary Logout operator
// @Description Logout operator and blacklist the current token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			// Blacklist token until its expiration
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated operator's profile
// @Summary Get operator profile
// @Description Get the authenticated operator's account information
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AdminUser "Operator details"
// @Failure 401 {string} string "Unauthorized"
// @Router /auth/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)
	if userID == "" {
		log.Printf("[AUTH] Unauthorized profile request - no user ID in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var user models.AdminUser
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, username, email, is_active, last_login, created_at
		FROM admin_users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &user.Email, &user.IsActive,
			&user.LastLogin, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendAppError(w, apperrors.NewAppError(apperrors.AccountNotFound, "operator not found"))
		} else {
			log.Printf("[AUTH] Failed to fetch operator %s: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch operator", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func generateJWT(userID, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"sub":     username,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
